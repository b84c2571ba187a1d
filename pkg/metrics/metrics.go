package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft metrics, per-group.
	RaftTerm = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablemesh_raft_term",
			Help: "Current Raft term by group",
		},
		[]string{"group"},
	)

	RaftCommitIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablemesh_raft_commit_index",
			Help: "Current Raft commit index by group",
		},
		[]string{"group"},
	)

	RaftState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablemesh_raft_state",
			Help: "Raft state by group (0=Follower,1=Candidate,2=Leader,3=Error)",
		},
		[]string{"group"},
	)

	RaftApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablemesh_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry, by group",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group"},
	)

	// MVCC metrics.
	MVCCChains = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablemesh_mvcc_chains",
			Help: "Number of live version chains by partition",
		},
		[]string{"table", "partition"},
	)

	MVCCIntents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablemesh_mvcc_intents",
			Help: "Number of outstanding write intents by partition",
		},
		[]string{"table", "partition"},
	)

	// Snapshot copier metrics.
	SnapshotBytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablemesh_snapshot_bytes_sent_total",
			Help: "Total row bytes of MV pages applied by the incoming snapshot copier",
		},
		[]string{"group"},
	)

	SnapshotInstallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablemesh_snapshot_install_duration_seconds",
			Help:    "Time taken for the incoming copier to finish a snapshot install",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group"},
	)

	// Replica dispatch metrics.
	ReplicaInvokeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablemesh_replica_invoke_duration_seconds",
			Help:    "Time taken for Service.Invoke to resolve, by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Cluster Management Group metrics.
	CMGJoinDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablemesh_cmg_join_duration_seconds",
			Help:    "Time from Init to Ready for a node joining the cluster",
			Buckets: prometheus.DefBuckets,
		},
	)

	CMGState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablemesh_cmg_state",
			Help: "CMG state machine state (0=Uninitialized,1=Initializing,2=Validated,3=Ready,4=Stopping)",
		},
	)

	// HLC metrics.
	HLCDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablemesh_hlc_drift_ms",
			Help: "Difference between the local HLC's physical component and local wall-clock time",
		},
	)

	// Admin HTTP metrics.
	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablemesh_admin_requests_total",
			Help: "Total management-plane HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	AdminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablemesh_admin_request_duration_seconds",
			Help:    "Management-plane HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		RaftTerm,
		RaftCommitIndex,
		RaftState,
		RaftApplyDuration,
		MVCCChains,
		MVCCIntents,
		SnapshotBytesSent,
		SnapshotInstallDuration,
		ReplicaInvokeDuration,
		CMGJoinDuration,
		CMGState,
		HLCDrift,
		AdminRequestsTotal,
		AdminRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
