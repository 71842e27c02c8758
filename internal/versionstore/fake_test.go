package versionstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_BranchCommitDiff(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.CreateRepo(ctx, "hf-model-a-b", "mem://hf-model-a-b", "main"))
	require.ErrorIs(t, f.CreateRepo(ctx, "hf-model-a-b", "mem://x", "main"), ErrConflict)

	require.NoError(t, f.UploadObject(ctx, "hf-model-a-b", "main", "README.md", []byte("hello")))
	_, err := f.Commit(ctx, "hf-model-a-b", "main", "add readme", "", nil)
	require.NoError(t, err)

	require.NoError(t, f.CreateBranch(ctx, "hf-model-a-b", "main", "feature"))
	require.NoError(t, f.UploadObject(ctx, "hf-model-a-b", "feature", "model.bin", []byte("weights")))
	_, err = f.Commit(ctx, "hf-model-a-b", "feature", "add weights", "", nil)
	require.NoError(t, err)

	diff, err := f.Diff(ctx, "hf-model-a-b", "main", "feature", "", 0)
	require.NoError(t, err)
	require.Len(t, diff.Entries, 1)
	assert.Equal(t, "model.bin", diff.Entries[0].Path)
	assert.Equal(t, "added", diff.Entries[0].Type)

	_, err = f.Merge(ctx, "hf-model-a-b", "feature", "main")
	require.NoError(t, err)

	stat, err := f.StatObject(ctx, "hf-model-a-b", "main", "model.bin")
	require.NoError(t, err)
	assert.EqualValues(t, len("weights"), stat.Size)

	rc, err := f.GetObject(ctx, "hf-model-a-b", "main", "README.md")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, f.DeleteObject(ctx, "hf-model-a-b", "main", "README.md"))
	_, err = f.StatObject(ctx, "hf-model-a-b", "main", "README.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFake_UnknownRefs(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.CreateRepo(ctx, "r", "mem://r", "main"))

	_, err := f.ListObjects(ctx, "r", "ghost", "", true, "", 0)
	assert.ErrorIs(t, err, ErrRefNotFound)

	_, err = f.ListObjects(ctx, "ghost-repo", "main", "", true, "", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
