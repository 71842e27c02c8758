package gc

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/storage"
)

// DefaultKeep is the number of historical LFS versions retained per
// (repo, path).
const DefaultKeep = 5

// Collector runs the retention-scan and full-repo-cleanup algorithms.
type Collector struct {
	Store   *metadata.Store
	Storage *storage.Gateway
	Keep    int
	Log     *logrus.Entry
}

func (c *Collector) keep() int {
	if c.Keep <= 0 {
		return DefaultKeep
	}
	return c.Keep
}

func (c *Collector) log() *logrus.Entry {
	if c.Log != nil {
		return c.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run processes one dequeued job: a single-path retention scan, or a
// full-repo cleanup when job.FullRepo is set.
func (c *Collector) Run(ctx context.Context, job Job) error {
	if job.FullRepo {
		return c.CleanupRepo(ctx, job.RepositoryID)
	}
	return c.CollectPath(ctx, job.RepositoryID, job.Path)
}

// CollectPath runs the per-(repo,path) retention algorithm: the top Keep
// distinct SHAs are retained, older distinct SHAs are candidates for
// deletion, and a candidate is deleted only if no File row, and no
// LFSObjectHistory row outside this (repo, path), still references it —
// excluding the candidate's own not-yet-trimmed row from the check.
func (c *Collector) CollectPath(ctx context.Context, repositoryID uint64, path string) error {
	rows, err := c.Store.LFSHistoryForPath(ctx, repositoryID, path)
	if err != nil {
		return fmt.Errorf("gc: loading history for repo %d path %s: %w", repositoryID, path, err)
	}

	retained := make(map[string]bool)
	var candidates []string
	seen := make(map[string]bool)
	for _, row := range rows {
		if seen[row.SHA256] {
			continue
		}
		seen[row.SHA256] = true
		if len(retained) < c.keep() {
			retained[row.SHA256] = true
		} else {
			candidates = append(candidates, row.SHA256)
		}
	}

	for _, sha := range candidates {
		stillReferenced, err := c.Store.SHA256ReferencedOutsidePath(ctx, sha, repositoryID, path)
		if err != nil {
			return fmt.Errorf("gc: checking references for %s: %w", sha, err)
		}
		if stillReferenced {
			continue
		}
		key := storage.LFSKey(sha)
		if err := c.Storage.DeletePrefix(ctx, key, 1); err != nil {
			return fmt.Errorf("gc: deleting blob %s: %w", sha, err)
		}
		c.log().WithFields(logrus.Fields{"repositoryId": repositoryID, "path": path, "sha256": sha}).Info("gc: deleted unreferenced lfs blob")
	}

	if err := c.Store.TrimLFSHistory(ctx, repositoryID, path, candidates); err != nil {
		return fmt.Errorf("gc: trimming history for repo %d path %s: %w", repositoryID, path, err)
	}
	return nil
}

// CleanupRepo gathers every SHA ever referenced by repositoryID, deletes
// each S3 blob that no other repository still references, then drops all
// LFSObjectHistory rows for it.
func (c *Collector) CleanupRepo(ctx context.Context, repositoryID uint64) error {
	shas, err := c.Store.AllSHA256ForRepo(ctx, repositoryID)
	if err != nil {
		return fmt.Errorf("gc: loading shas for repo %d: %w", repositoryID, err)
	}

	for _, sha := range shas {
		stillReferenced, err := c.Store.SHA256ReferencedOutsideRepo(ctx, sha, repositoryID)
		if err != nil {
			return fmt.Errorf("gc: checking cross-repo references for %s: %w", sha, err)
		}
		if stillReferenced {
			continue
		}
		if err := c.Storage.DeletePrefix(ctx, storage.LFSKey(sha), 1); err != nil {
			return fmt.Errorf("gc: deleting blob %s: %w", sha, err)
		}
	}

	if err := c.Store.DeleteLFSHistoryForRepo(ctx, repositoryID); err != nil {
		return fmt.Errorf("gc: clearing history for repo %d: %w", repositoryID, err)
	}
	return nil
}
