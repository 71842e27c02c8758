package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLFSKey(t *testing.T) {
	sha := "abcd1234ef"
	assert.Equal(t, "lfs/ab/cd/"+sha, LFSKey(sha))
}

func TestRepoPrefix(t *testing.T) {
	assert.Equal(t, "hf-model-alice-m1/", RepoPrefix("model", "alice", "m1"))
}

func TestGateway_HeadCopyDelete(t *testing.T) {
	mock := NewMockS3Client()
	mock.Put("lfs/ab/cd/abcd", []byte("hello"))
	gw := NewForTest("bucket", mock)
	ctx := context.Background()

	res, err := gw.Head(ctx, "lfs/ab/cd/abcd")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.EqualValues(t, 5, res.Size)

	missing, err := gw.Head(ctx, "lfs/does/not/exist")
	require.NoError(t, err)
	assert.False(t, missing.Exists)

	require.NoError(t, gw.Copy(ctx, "lfs/ab/cd/abcd", "lfs/ab/cd/copy"))
	res, err = gw.Head(ctx, "lfs/ab/cd/copy")
	require.NoError(t, err)
	assert.True(t, res.Exists)

	require.NoError(t, gw.DeletePrefix(ctx, "lfs/ab/cd/", 4))
	res, err = gw.Head(ctx, "lfs/ab/cd/abcd")
	require.NoError(t, err)
	assert.False(t, res.Exists)

	// delete on already-missing prefix is a success (idempotent)
	require.NoError(t, gw.DeletePrefix(ctx, "lfs/nothing/", 4))
}
