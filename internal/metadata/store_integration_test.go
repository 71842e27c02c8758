//go:build integration

package metadata

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// These tests run against a real Postgres reachable via KOHAKU_TEST_DB_URL,
// in the same spirit as a container-backed integration suite, without
// pulling in a Docker client dependency this module has no other use for.
func testStore(t *testing.T) *Store {
	dsn := os.Getenv("KOHAKU_TEST_DB_URL")
	if dsn == "" {
		t.Skip("KOHAKU_TEST_DB_URL not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	return s
}

func TestStore_RepositoryRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	owner := uint64(1)
	repo := &Repository{
		RepoType:            RepoTypeModel,
		Namespace:           "Alice",
		NamespaceNormalized: NormalizeName("Alice"),
		Name:                "M1",
		NameNormalized:      NormalizeName("M1"),
		OwnerUserID:         &owner,
	}
	require.NoError(t, s.DB.WithContext(ctx).Create(repo).Error)

	found, err := s.FindRepository(ctx, RepoTypeModel, "alice", "m1")
	require.NoError(t, err)
	require.Equal(t, repo.ID, found.ID)
	require.Equal(t, "Alice/M1", found.FullID())
}

func TestStore_NameConflicts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conflict, err := s.NameConflicts(ctx, RepoTypeModel, "alice", "m1")
	require.NoError(t, err)
	require.True(t, conflict)

	conflict, err = s.NameConflicts(ctx, RepoTypeModel, "nobody", "fresh-repo")
	require.NoError(t, err)
	require.False(t, conflict)
}
