//go:build integration

package gc

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/storage"
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

// TestCollectPath_RetainsTopKAndDeletesOlder checks that seven versions
// on the same path with Keep=5 deletes the two oldest SHAs from S3 and
// trims their LFSObjectHistory rows.
func TestCollectPath_RetainsTopKAndDeletesOlder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	repo := &metadata.Repository{
		RepoType: metadata.RepoTypeModel, Namespace: "alice", NamespaceNormalized: "alice",
		Name: "m1", NameNormalized: "m1",
	}
	require.NoError(t, store.DB.Create(repo).Error)

	mock := storage.NewMockS3Client()
	for i := 1; i <= 7; i++ {
		sha := fmt.Sprintf("sha%02d", i)
		mock.Put(storage.LFSKey(sha), []byte("blob"))
		require.NoError(t, store.DB.Create(&metadata.LFSObjectHistory{
			RepositoryID: repo.ID, PathInRepo: "model.bin", SHA256: sha, Size: 4, CommitID: fmt.Sprintf("c%d", i),
		}).Error)
	}

	gw := storage.NewForTest("bucket", mock)
	c := &Collector{Store: store, Storage: gw, Keep: 5}
	require.NoError(t, c.CollectPath(ctx, repo.ID, "model.bin"))

	for i := 1; i <= 2; i++ {
		sha := fmt.Sprintf("sha%02d", i)
		head, err := gw.Head(ctx, storage.LFSKey(sha))
		require.NoError(t, err)
		require.False(t, head.Exists, "sha %s should have been garbage collected", sha)
	}
	for i := 3; i <= 7; i++ {
		sha := fmt.Sprintf("sha%02d", i)
		head, err := gw.Head(ctx, storage.LFSKey(sha))
		require.NoError(t, err)
		require.True(t, head.Exists, "sha %s should be retained", sha)
	}

	rows, err := store.LFSHistoryForPath(ctx, repo.ID, "model.bin")
	require.NoError(t, err)
	require.Len(t, rows, 5)
}

func TestCollectPath_SkipsStillReferencedSHA(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	repo := &metadata.Repository{
		RepoType: metadata.RepoTypeModel, Namespace: "bob", NamespaceNormalized: "bob",
		Name: "m2", NameNormalized: "m2",
	}
	require.NoError(t, store.DB.Create(repo).Error)

	mock := storage.NewMockS3Client()
	for i := 1; i <= 6; i++ {
		sha := fmt.Sprintf("keep%02d", i)
		mock.Put(storage.LFSKey(sha), []byte("blob"))
		require.NoError(t, store.DB.Create(&metadata.LFSObjectHistory{
			RepositoryID: repo.ID, PathInRepo: "model.bin", SHA256: sha, Size: 4, CommitID: fmt.Sprintf("c%d", i),
		}).Error)
	}
	// keep01 is the oldest, normally a candidate, but still referenced by
	// a current File row -- it must survive.
	require.NoError(t, store.DB.Create(&metadata.File{
		RepositoryID: repo.ID, RepoType: metadata.RepoTypeModel, PathInRepo: "other.bin", SHA256: "keep01", Size: 4, LFS: true,
	}).Error)

	gw := storage.NewForTest("bucket", mock)
	c := &Collector{Store: store, Storage: gw, Keep: 5}
	require.NoError(t, c.CollectPath(ctx, repo.ID, "model.bin"))

	head, err := gw.Head(ctx, storage.LFSKey("keep01"))
	require.NoError(t, err)
	require.True(t, head.Exists)
}

func TestCleanupRepo_DeletesOnlyUnsharedBlobs(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	repoA := &metadata.Repository{RepoType: metadata.RepoTypeModel, Namespace: "a", NamespaceNormalized: "a", Name: "r", NameNormalized: "r"}
	repoB := &metadata.Repository{RepoType: metadata.RepoTypeModel, Namespace: "b", NamespaceNormalized: "b", Name: "r", NameNormalized: "r"}
	require.NoError(t, store.DB.Create(repoA).Error)
	require.NoError(t, store.DB.Create(repoB).Error)

	mock := storage.NewMockS3Client()
	mock.Put(storage.LFSKey("shared"), []byte("blob"))
	mock.Put(storage.LFSKey("onlyA"), []byte("blob"))
	require.NoError(t, store.DB.Create(&metadata.LFSObjectHistory{RepositoryID: repoA.ID, PathInRepo: "f", SHA256: "shared", Size: 4, CommitID: "c1"}).Error)
	require.NoError(t, store.DB.Create(&metadata.LFSObjectHistory{RepositoryID: repoB.ID, PathInRepo: "f", SHA256: "shared", Size: 4, CommitID: "c2"}).Error)
	require.NoError(t, store.DB.Create(&metadata.LFSObjectHistory{RepositoryID: repoA.ID, PathInRepo: "g", SHA256: "onlyA", Size: 4, CommitID: "c3"}).Error)

	gw := storage.NewForTest("bucket", mock)
	c := &Collector{Store: store, Storage: gw}
	require.NoError(t, c.CleanupRepo(ctx, repoA.ID))

	sharedHead, err := gw.Head(ctx, storage.LFSKey("shared"))
	require.NoError(t, err)
	require.True(t, sharedHead.Exists, "shared blob referenced by repoB must survive")

	onlyAHead, err := gw.Head(ctx, storage.LFSKey("onlyA"))
	require.NoError(t, err)
	require.False(t, onlyAHead.Exists, "blob referenced only by the deleted repo must be removed")

	var remaining int64
	require.NoError(t, store.DB.Model(&metadata.LFSObjectHistory{}).Where("repository_id = ?", repoA.ID).Count(&remaining).Error)
	require.Zero(t, remaining)
}
