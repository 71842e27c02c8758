package lfs

import "fmt"

// ResolveHeaders are the headers the file-resolve endpoint must set for an
// LFS-backed file.
type ResolveHeaders struct {
	RepoCommit  string
	LinkedETag  string
	LinkedSize  string
	ETag        string
}

// BuildResolveHeaders computes the header set for a GET/HEAD resolve
// response backed by an LFS object.
func BuildResolveHeaders(commitID, sha256 string, size int64) ResolveHeaders {
	tag := fmt.Sprintf("sha256:%s", sha256)
	return ResolveHeaders{
		RepoCommit: commitID,
		LinkedETag: tag,
		LinkedSize: fmt.Sprint(size),
		ETag:       tag,
	}
}
