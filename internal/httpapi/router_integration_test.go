//go:build integration

package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kohakuhub/kohakuhub/internal/config"
	"github.com/kohakuhub/kohakuhub/internal/lifecycle"
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

func testServer(t *testing.T, store *metadata.Store) *httptest.Server {
	gw := storage.NewForTest("bucket", storage.NewMockS3Client())
	vs := versionstore.NewFake()
	log := logrus.New()

	lc := &lifecycle.Service{
		Store:        store,
		VersionStore: vs,
		Storage:      gw,
		BaseURL:      "https://hub.example.test",
		Log:          logrus.NewEntry(log),
	}

	d := Deps{
		Store:        store,
		VersionStore: vs,
		Lifecycle:    lc,
		Identity:     &IdentityVerifier{},
		Config: &config.Config{
			APIBase: "/api",
			BaseURL: "https://hub.example.test",
		},
		Metrics: nil,
		Log:     log,
	}

	e := New(d)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func createTestUser(t *testing.T, store *metadata.Store, username string) *metadata.User {
	u := &metadata.User{Username: username, UsernameNormalized: username}
	require.NoError(t, store.DB.Create(u).Error)
	return u
}

func TestRouter_RepoInfo_PublicRepoVisibleAnonymously(t *testing.T) {
	store := testStore(t)
	srv := testServer(t, store)
	user := createTestUser(t, store, "alice")

	lc := &lifecycle.Service{Store: store, VersionStore: versionstore.NewFake(), Storage: storage.NewForTest("bucket", storage.NewMockS3Client())}
	_, err := lc.Create(context.Background(), lifecycle.CreateRequest{
		RepoType: metadata.RepoTypeModel, Namespace: "alice", Name: "demo",
		OwnerUserID: &user.ID, Identity: permission.Identity{UserID: user.ID}, Username: "alice",
	})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/models/alice/demo")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "alice/demo", body["id"])
}

func TestRouter_RepoInfo_PrivateRepoHiddenFromAnonymous(t *testing.T) {
	store := testStore(t)
	srv := testServer(t, store)
	user := createTestUser(t, store, "bob")

	lc := &lifecycle.Service{Store: store, VersionStore: versionstore.NewFake(), Storage: storage.NewForTest("bucket", storage.NewMockS3Client())}
	_, err := lc.Create(context.Background(), lifecycle.CreateRequest{
		RepoType: metadata.RepoTypeModel, Namespace: "bob", Name: "secret", Private: true,
		OwnerUserID: &user.ID, Identity: permission.Identity{UserID: user.ID}, Username: "bob",
	})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/models/bob/secret")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Privacy collapse: a private repo looks identical to a nonexistent one.
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "RepoNotFound", resp.Header.Get("X-Error-Code"))
}

func TestRouter_RepoInfo_NotFound(t *testing.T) {
	store := testStore(t)
	srv := testServer(t, store)

	resp, err := http.Get(srv.URL + "/api/models/nobody/nothing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_ListRepos_ExcludesPrivateFromAnonymous(t *testing.T) {
	store := testStore(t)
	srv := testServer(t, store)
	user := createTestUser(t, store, "carol")

	lc := &lifecycle.Service{Store: store, VersionStore: versionstore.NewFake(), Storage: storage.NewForTest("bucket", storage.NewMockS3Client())}
	_, err := lc.Create(context.Background(), lifecycle.CreateRequest{
		RepoType: metadata.RepoTypeModel, Namespace: "carol", Name: "open",
		OwnerUserID: &user.ID, Identity: permission.Identity{UserID: user.ID}, Username: "carol",
	})
	require.NoError(t, err)
	_, err = lc.Create(context.Background(), lifecycle.CreateRequest{
		RepoType: metadata.RepoTypeModel, Namespace: "carol", Name: "closed", Private: true,
		OwnerUserID: &user.ID, Identity: permission.Identity{UserID: user.ID}, Username: "carol",
	})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/models?author=carol")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var repos []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &repos))
	require.Len(t, repos, 1)
	require.Equal(t, "carol/open", repos[0]["id"])
}

func TestRouter_AdminHealthz_RequiresToken(t *testing.T) {
	store := testStore(t)
	gw := storage.NewForTest("bucket", storage.NewMockS3Client())
	vs := versionstore.NewFake()
	log := logrus.New()
	d := Deps{
		Store:        store,
		VersionStore: vs,
		Lifecycle:    &lifecycle.Service{Store: store, VersionStore: vs, Storage: gw},
		Identity:     &IdentityVerifier{},
		Config:       &config.Config{APIBase: "/api", AdminSecretToken: "s3cret"},
		Log:          log,
	}
	srv := httptest.NewServer(New(d))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/admin/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/admin/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Token", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
