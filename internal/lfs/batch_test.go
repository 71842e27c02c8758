package lfs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kohakuhub/kohakuhub/internal/storage"
)

func newTestService() *Service {
	mock := storage.NewMockS3Client()
	gw := storage.NewForTest("bucket", mock)
	return NewService(gw, 15*time.Minute, time.Hour)
}

func TestBatch_UploadExistingObjectOmitsActions(t *testing.T) {
	mock := storage.NewMockS3Client()
	sha := "abc123"
	mock.Put(storage.LFSKey(sha), []byte("hello"))
	gw := storage.NewForTest("bucket", mock)
	svc := NewService(gw, 0, 0)

	resp, err := svc.Batch(context.Background(), BatchRequest{
		Operation: "upload",
		Objects:   []BatchObject{{OID: sha, Size: 5}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Objects, 1)
	assert.Nil(t, resp.Objects[0].Actions)
}

func TestBatch_DownloadMissingObjectErrors(t *testing.T) {
	svc := newTestService()
	resp, err := svc.Batch(context.Background(), BatchRequest{
		Operation: "download",
		Objects:   []BatchObject{{OID: "ghost", Size: 10}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Objects, 1)
	require.NotNil(t, resp.Objects[0].Error)
	assert.Equal(t, 404, resp.Objects[0].Error.Code)
}

func TestVerify_SizeMismatch(t *testing.T) {
	mock := storage.NewMockS3Client()
	mock.Put(storage.LFSKey("sha1"), []byte("12345"))
	gw := storage.NewForTest("bucket", mock)
	svc := NewService(gw, 0, 0)

	err := svc.Verify(context.Background(), VerifyRequest{OID: "sha1", Size: 99})
	assert.Error(t, err)
}

func TestVerify_Success(t *testing.T) {
	mock := storage.NewMockS3Client()
	mock.Put(storage.LFSKey("sha1"), []byte("12345"))
	gw := storage.NewForTest("bucket", mock)
	svc := NewService(gw, 0, 0)

	err := svc.Verify(context.Background(), VerifyRequest{OID: "sha1", Size: 5})
	assert.NoError(t, err)
}

func TestPointerText(t *testing.T) {
	got := PointerText("deadbeef", 42)
	assert.Equal(t, "version https://git-lfs.github.com/spec/v1\noid sha256:deadbeef\nsize 42\n", got)
}
