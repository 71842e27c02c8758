//go:build integration

package gitbridge

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kohakuhub/kohakuhub/internal/gitbridge/objcache"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/versionstore"
)

func testStore(t *testing.T) *metadata.Store {
	dsn := os.Getenv("KOHAKU_TEST_DB_URL")
	if dsn == "" {
		t.Skip("KOHAKU_TEST_DB_URL not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(metadata.AllModels()...))
	return &metadata.Store{DB: db}
}

func TestBuildChain_LinearHistoryWithInlineAndLFSBlobs(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	repo := &metadata.Repository{RepoType: metadata.RepoTypeModel, Namespace: "alice", NamespaceNormalized: "alice", Name: "demo", NameNormalized: "demo"}
	require.NoError(t, store.DB.Create(repo).Error)

	fake := versionstore.NewFake()
	require.NoError(t, fake.CreateRepo(ctx, "hf-model-alice-demo", "mem://demo", "main"))
	require.NoError(t, fake.UploadObject(ctx, "hf-model-alice-demo", "main", "config.json", []byte(`{"a":1}`)))
	commitID, err := fake.Commit(ctx, "hf-model-alice-demo", "main", "add config", "", nil)
	require.NoError(t, err)

	require.NoError(t, store.DB.Create(&metadata.Commit{
		CommitID: commitID, RepositoryID: repo.ID, RepoType: metadata.RepoTypeModel,
		Branch: "main", Username: "alice", Message: "add config", CreatedAt: time.Now(),
	}).Error)

	require.NoError(t, store.DB.Create(&metadata.LFSObjectHistory{
		RepositoryID: repo.ID, PathInRepo: "model.bin", SHA256: "deadbeef", Size: 2 << 20, CommitID: commitID,
	}).Error)
	require.NoError(t, fake.UploadObject(ctx, "hf-model-alice-demo", "main", "model.bin", []byte("binary-stand-in")))

	cache, err := objcache.Open(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	defer cache.Close()

	tr := &Translator{Meta: store, VersionStore: fake, Cache: cache}
	chain, err := tr.BuildChain(ctx, "hf-model-alice-demo", repo.ID, "main", "")
	require.NoError(t, err)
	require.Len(t, chain.Commits, 1)
	require.NotEmpty(t, chain.All)
}

func TestBuildChain_EmptyBranchReturnsEmptyChain(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	repo := &metadata.Repository{RepoType: metadata.RepoTypeModel, Namespace: "bob", NamespaceNormalized: "bob", Name: "empty", NameNormalized: "empty"}
	require.NoError(t, store.DB.Create(repo).Error)

	fake := versionstore.NewFake()
	tr := &Translator{Meta: store, VersionStore: fake}
	chain, err := tr.BuildChain(ctx, "hf-model-bob-empty", repo.ID, "main", "")
	require.NoError(t, err)
	require.Empty(t, chain.Commits)
}
