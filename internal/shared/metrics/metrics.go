package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the hub's Prometheus collectors.
type Metrics struct {
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	CommitsTotal   *prometheus.CounterVec
	CommitBytes    prometheus.Counter
	QuotaDenials   prometheus.Counter
	LFSUploads     prometheus.Counter
	LFSDedupHits   prometheus.Counter
	GCObjects      prometheus.Counter
	GCBytes        prometheus.Counter
	GitPackBytes   prometheus.Counter
	UpstreamErrors *prometheus.CounterVec
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kohakuhub_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kohakuhub_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		CommitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kohakuhub_commits_total",
			Help: "Commits by repo type and result.",
		}, []string{"repo_type", "result"}),
		CommitBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "kohakuhub_commit_bytes_total",
			Help: "Net bytes added by successful commits.",
		}),
		QuotaDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "kohakuhub_quota_denials_total",
			Help: "Commits rejected by the quota engine.",
		}),
		LFSUploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "kohakuhub_lfs_uploads_total",
			Help: "LFS batch upload actions issued.",
		}),
		LFSDedupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "kohakuhub_lfs_dedup_hits_total",
			Help: "LFS batch objects already present in storage.",
		}),
		GCObjects: factory.NewCounter(prometheus.CounterOpts{
			Name: "kohakuhub_gc_objects_total",
			Help: "Objects deleted by the garbage collector.",
		}),
		GCBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "kohakuhub_gc_bytes_total",
			Help: "Bytes reclaimed by the garbage collector.",
		}),
		GitPackBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "kohakuhub_git_pack_bytes_total",
			Help: "Pack bytes served over the git bridge.",
		}),
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kohakuhub_upstream_errors_total",
			Help: "Upstream failures by dependency.",
		}, []string{"dependency"}),
	}
}

// NewDefault registers on the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
