package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus counters tracked for commit throughput,
// quota denials, LFS upload activity, and GC deletions, built with a
// NewMetrics(namespace) constructor so counter names stay consistent.
type Metrics struct {
	Commits       prometheus.Counter
	QuotaDenials  prometheus.Counter
	LFSUploads    prometheus.Counter
	LFSDedupHits  prometheus.Counter
	GCDeletions   prometheus.Counter
}

// NewMetrics registers every counter under namespace and returns the
// handle handlers increment directly.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Commits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commits_total", Help: "Successful commit pipeline runs.",
		}),
		QuotaDenials: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "quota_denials_total", Help: "Requests rejected for exceeding a quota bucket.",
		}),
		LFSUploads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lfs_uploads_total", Help: "LFS batch upload actions issued.",
		}),
		LFSDedupHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lfs_dedup_hits_total", Help: "LFS batch upload requests short-circuited by an existing blob.",
		}),
		GCDeletions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_deletions_total", Help: "LFS blobs deleted by the garbage collector.",
		}),
	}
}

// promHandler exposes the default registry at the admin group's /metrics route.
func promHandler() http.Handler {
	return promhttp.Handler()
}
