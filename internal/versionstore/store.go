package versionstore

import (
	"context"
	"io"
)

// Store is the Version Store Client contract consumed by the commit
// pipeline, LFS subsystem, and Git bridge. Client implements it against a
// real LakeFS-like endpoint; Fake implements it in memory for tests.
type Store interface {
	CreateRepo(ctx context.Context, name, storageURI, defaultBranch string) error
	DeleteRepo(ctx context.Context, name string) error
	CreateBranch(ctx context.Context, repo, sourceRef, newName string) error
	DeleteBranch(ctx context.Context, repo, branch string) error
	CreateTag(ctx context.Context, repo, ref, name, message string) error
	DeleteTag(ctx context.Context, repo, name string) error
	UploadObject(ctx context.Context, repo, branch, path string, content []byte) error
	LinkPhysicalAddress(ctx context.Context, repo, branch, path, s3URI, sha256 string, size int64) error
	Commit(ctx context.Context, repo, branch, message, description string, metadata map[string]string) (string, error)
	ListObjects(ctx context.Context, repo, ref, prefix string, recursive bool, after string, limit int) (ListResult, error)
	StatObject(ctx context.Context, repo, ref, path string) (ObjectStat, error)
	GetObject(ctx context.Context, repo, ref, path string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, repo, branch, path string) error
	Diff(ctx context.Context, repo, leftRef, rightRef, after string, limit int) (DiffResult, error)
	Merge(ctx context.Context, repo, src, dst string) (string, error)
	Revert(ctx context.Context, repo, branch, commit string) error
	HardReset(ctx context.Context, repo, branch, commit string) error
}

var (
	_ Store = (*Client)(nil)
	_ Store = (*Fake)(nil)
)
