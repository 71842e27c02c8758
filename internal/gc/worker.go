package gc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Worker drains jobs from a Queue and runs them through a Collector until
// ctx is cancelled. Failures are logged and the job is retried (re-enqueued
// with an incremented RetryCount) rather than surfaced to any client —
// background GC failures never reach the caller.
type Worker struct {
	Queue     *Queue
	Collector *Collector
	Log       *logrus.Entry
	MaxRetry  int
}

func (w *Worker) log() *logrus.Entry {
	if w.Log != nil {
		return w.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run blocks, processing jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := w.Queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log().WithError(err).Warn("gc: dequeue failed")
			continue
		}
		if job == nil {
			continue
		}

		if err := w.Collector.Run(ctx, *job); err != nil {
			w.log().WithError(err).WithFields(logrus.Fields{
				"repositoryId": job.RepositoryID,
				"path":         job.Path,
				"retryCount":   job.RetryCount,
			}).Warn("gc: job failed")
			if w.maxRetry() > job.RetryCount {
				job.RetryCount++
				job.EnqueuedAt = time.Now()
				if enqErr := w.Queue.Enqueue(ctx, *job); enqErr != nil {
					w.log().WithError(enqErr).Error("gc: re-enqueue failed")
				}
			}
		}
	}
}

func (w *Worker) maxRetry() int {
	if w.MaxRetry <= 0 {
		return 3
	}
	return w.MaxRetry
}
