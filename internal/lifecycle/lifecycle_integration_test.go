//go:build integration

package lifecycle

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
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

func testService(t *testing.T, store *metadata.Store) (*Service, *versionstore.Fake) {
	vs := versionstore.NewFake()
	gw := storage.NewForTest("bucket", storage.NewMockS3Client())
	return &Service{
		Store:        store,
		VersionStore: vs,
		Storage:      gw,
		BaseURL:      "https://hub.example.test",
		Log:          logrus.NewEntry(logrus.New()),
	}, vs
}

func TestService_Create(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	svc, vs := testService(t, store)

	quota := int64(1 << 20)
	user := &metadata.User{Username: "alice", UsernameNormalized: "alice", PublicQuotaBytes: &quota}
	require.NoError(t, store.DB.Create(user).Error)

	res, err := svc.Create(ctx, CreateRequest{
		RepoType:    metadata.RepoTypeModel,
		Namespace:   "alice",
		Name:        "demo",
		OwnerUserID: &user.ID,
		Identity:    permission.Identity{UserID: user.ID},
		Username:    "alice",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Repo)
	require.Equal(t, "alice/demo", res.Repo.FullID())
	require.Contains(t, res.URL, "alice/demo")

	// Create's seed commit is a no-op when no Commit pipeline is wired
	// (svc.Commit == nil here); the Version Store repo still exists though.
	lakefsName := lakefsRepoName(metadata.RepoTypeModel, "alice", "demo")
	_, err = vs.ListObjects(ctx, lakefsName, "main", "", true, "", 10)
	require.NoError(t, err)
}

func TestService_Create_NameConflict(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	svc, _ := testService(t, store)

	quota := int64(1 << 20)
	user := &metadata.User{Username: "bob", UsernameNormalized: "bob", PublicQuotaBytes: &quota}
	require.NoError(t, store.DB.Create(user).Error)

	req := CreateRequest{
		RepoType:    metadata.RepoTypeModel,
		Namespace:   "bob",
		Name:        "taken",
		OwnerUserID: &user.ID,
		Identity:    permission.Identity{UserID: user.ID},
		Username:    "bob",
	}
	_, err := svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = svc.Create(ctx, req)
	require.Error(t, err)
}

func TestService_Delete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	svc, _ := testService(t, store)

	quota := int64(1 << 20)
	user := &metadata.User{Username: "carol", UsernameNormalized: "carol", PublicQuotaBytes: &quota}
	require.NoError(t, store.DB.Create(user).Error)

	identity := permission.Identity{UserID: user.ID}
	res, err := svc.Create(ctx, CreateRequest{
		RepoType:    metadata.RepoTypeModel,
		Namespace:   "carol",
		Name:        "gone-soon",
		OwnerUserID: &user.ID,
		Identity:    identity,
		Username:    "carol",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, metadata.RepoTypeModel, "carol", "gone-soon", identity))

	_, err = permission.Resolve(ctx, store, metadata.RepoTypeModel, "carol", "gone-soon")
	require.Error(t, err)

	var count int64
	require.NoError(t, store.DB.Model(&metadata.Repository{}).Where("id = ?", res.Repo.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestService_Delete_RequiresDeleteRight(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	svc, _ := testService(t, store)

	quota := int64(1 << 20)
	owner := &metadata.User{Username: "dave", UsernameNormalized: "dave", PublicQuotaBytes: &quota}
	require.NoError(t, store.DB.Create(owner).Error)
	stranger := &metadata.User{Username: "eve", UsernameNormalized: "eve", PublicQuotaBytes: &quota}
	require.NoError(t, store.DB.Create(stranger).Error)

	_, err := svc.Create(ctx, CreateRequest{
		RepoType:    metadata.RepoTypeModel,
		Namespace:   "dave",
		Name:        "protected",
		OwnerUserID: &owner.ID,
		Identity:    permission.Identity{UserID: owner.ID},
		Username:    "dave",
	})
	require.NoError(t, err)

	err = svc.Delete(ctx, metadata.RepoTypeModel, "dave", "protected", permission.Identity{UserID: stranger.ID})
	require.Error(t, err)
}

func TestService_Move(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	svc, _ := testService(t, store)

	quota := int64(1 << 20)
	user := &metadata.User{Username: "frank", UsernameNormalized: "frank", PublicQuotaBytes: &quota}
	require.NoError(t, store.DB.Create(user).Error)
	identity := permission.Identity{UserID: user.ID}

	_, err := svc.Create(ctx, CreateRequest{
		RepoType:    metadata.RepoTypeModel,
		Namespace:   "frank",
		Name:        "old-name",
		OwnerUserID: &user.ID,
		Identity:    identity,
		Username:    "frank",
	})
	require.NoError(t, err)

	moved, err := svc.Move(ctx, MoveRequest{
		RepoType:      metadata.RepoTypeModel,
		FromNamespace: "frank",
		FromName:      "old-name",
		ToNamespace:   "frank",
		ToName:        "new-name",
		Identity:      identity,
	})
	require.NoError(t, err)
	require.Equal(t, "frank/new-name", moved.FullID())

	newFullID, ok := ResolveRedirect(metadata.RepoTypeModel, "frank/old-name")
	require.True(t, ok)
	require.Equal(t, "frank/new-name", newFullID)

	_, err = permission.Resolve(ctx, store, metadata.RepoTypeModel, "frank", "new-name")
	require.NoError(t, err)
}

func TestService_Squash(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	svc, vs := testService(t, store)

	quota := int64(1 << 20)
	user := &metadata.User{Username: "grace", UsernameNormalized: "grace", PublicQuotaBytes: &quota}
	require.NoError(t, store.DB.Create(user).Error)
	identity := permission.Identity{UserID: user.ID}

	_, err := svc.Create(ctx, CreateRequest{
		RepoType:    metadata.RepoTypeModel,
		Namespace:   "grace",
		Name:        "history",
		OwnerUserID: &user.ID,
		Identity:    identity,
		Username:    "grace",
	})
	require.NoError(t, err)

	lakefsName := lakefsRepoName(metadata.RepoTypeModel, "grace", "history")
	require.NoError(t, vs.UploadObject(ctx, lakefsName, "main", "a.txt", []byte("a")))
	_, err = vs.Commit(ctx, lakefsName, "main", "add a", "", nil)
	require.NoError(t, err)

	commitID, err := svc.Squash(ctx, metadata.RepoTypeModel, "grace", "history", "main", identity, "grace", "squash history")
	require.NoError(t, err)
	require.NotEmpty(t, commitID)

	var count int64
	require.NoError(t, store.DB.Model(&metadata.Commit{}).Where("commit_id = ?", commitID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}
