package commit

import (
	"context"
	"hash/fnv"

	"golang.org/x/sync/errgroup"
)

// DefaultFanout is the bounded worker-pool size for commit-op processing.
const DefaultFanout = 8

// RunFanout executes apply for every op, bounded by N concurrent workers,
// serializing same-path ops into the same bucket by hashing Path() so two
// ops touching the same file are never applied out of order. The first
// error aborts remaining work and is returned; ops already dispatched to
// other buckets may still complete.
func RunFanout(ctx context.Context, n int, ops []Op, apply func(ctx context.Context, op Op) error) error {
	if n <= 0 {
		n = DefaultFanout
	}
	buckets := make([][]Op, n)
	for _, op := range ops {
		idx := bucketFor(op.Path(), n)
		buckets[idx] = append(buckets[idx], op)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, bucket := range buckets {
		bucket := bucket
		if len(bucket) == 0 {
			continue
		}
		g.Go(func() error {
			for _, op := range bucket {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := apply(gctx, op); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func bucketFor(path string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return int(h.Sum32() % uint32(n))
}
