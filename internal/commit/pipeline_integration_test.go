//go:build integration

package commit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/permission"
	"github.com/kohakuhub/kohakuhub/internal/storage"
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

func ndjsonLine(t *testing.T, key string, value interface{}) []byte {
	v, err := json.Marshal(value)
	require.NoError(t, err)
	line, err := json.Marshal(map[string]json.RawMessage{"key": mustJSON(t, key), "value": v})
	require.NoError(t, err)
	return append(line, '\n')
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestPipeline_Run_InlineFileCommit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	quota := int64(1 << 20)
	user := &metadata.User{Username: "alice", UsernameNormalized: "alice", PublicQuotaBytes: &quota}
	require.NoError(t, store.DB.Create(user).Error)

	repo := &metadata.Repository{
		RepoType:           metadata.RepoTypeModel,
		Namespace:          "alice",
		NamespaceNormalized: "alice",
		Name:               "demo",
		NameNormalized:     "demo",
		OwnerUserID:        &user.ID,
	}
	require.NoError(t, store.DB.Create(repo).Error)

	vs := versionstore.NewFake()
	lakefsName := lakefsRepoName(repo.RepoType, repo.Namespace, repo.Name)
	require.NoError(t, vs.CreateRepo(ctx, lakefsName, "mem://"+lakefsName, "main"))

	gw := storage.NewForTest("bucket", storage.NewMockS3Client())

	p := &Pipeline{
		Store:                store,
		VersionStore:         vs,
		Storage:              gw,
		InlineThresholdBytes: 10 << 20,
		BaseURL:              "https://hub.example.test",
	}

	var body bytes.Buffer
	body.Write(ndjsonLine(t, "header", map[string]string{"summary": "add readme"}))
	body.Write(ndjsonLine(t, "file", map[string]string{
		"path":    "README.md",
		"content": base64.StdEncoding.EncodeToString([]byte("hello world")),
	}))

	resp, err := p.Run(ctx, Request{
		RepoType:  metadata.RepoTypeModel,
		Namespace: "alice",
		Name:      "demo",
		Branch:    "main",
		Body:      &body,
		Username:  "alice",
		Identity:  permission.Identity{UserID: user.ID},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.CommitOID)

	f, err := store.FindFile(ctx, repo.ID, "README.md")
	require.NoError(t, err)
	require.EqualValues(t, len("hello world"), f.Size)
}
