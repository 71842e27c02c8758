// Package gc implements the repository garbage collector: a Redis-backed
// job queue of (repository, path) pairs that mutated, and a collector
// that retains the K most-recent LFS versions per path, trims the rest
// from LFSObjectHistory, and deletes their S3 blobs once nothing else
// references them.
//
// The queue uses a blocking RPush/BLPop dequeue. There is no processing
// set for in-flight jobs: a job popped by a worker that then crashes is
// not recovered.
package gc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job is one GC unit of work: a (repository, path) pair that mutated, or a
// full-repo cleanup request. S3 LFS keys are content-addressed
// (storage.LFSKey depends only on the SHA-256), so jobs carry the
// Metadata Store's numeric RepositoryID rather than a storage location.
type Job struct {
	RepositoryID uint64    `json:"repositoryId"`
	Path         string    `json:"path"` // empty for full-repo cleanup jobs
	FullRepo     bool      `json:"fullRepo"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
	RetryCount   int       `json:"retryCount"`
}

// Queue is the Redis list backing the GC work queue.
type Queue struct {
	client *redis.Client
	key    string
}

// NewQueue connects to redisURL and returns a Queue using keyPrefix+"gc" as
// its list key (defaults to "kohaku:gc" when keyPrefix is empty).
func NewQueue(ctx context.Context, redisURL, keyPrefix string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("gc: parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("gc: connecting to redis: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "kohaku:"
	}
	return &Queue{client: client, key: keyPrefix + "gc"}, nil
}

// NewQueueFromClient wraps an existing redis.Client, for tests against
// miniredis or a shared connection pool.
func NewQueueFromClient(client *redis.Client, keyPrefix string) *Queue {
	if keyPrefix == "" {
		keyPrefix = "kohaku:"
	}
	return &Queue{client: client, key: keyPrefix + "gc"}
}

func (q *Queue) Close() error { return q.client.Close() }

// Enqueue schedules a GC job. Re-enqueuing the same (repo, path) before
// it runs is harmless since the collection algorithm is idempotent.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("gc: marshaling job: %w", err)
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

// Dequeue blocks up to timeout for the next job. A nil, nil return means
// the timeout elapsed with no job available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gc: dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("gc: unmarshaling job: %w", err)
	}
	return &job, nil
}

// Depth reports the number of jobs currently queued.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
