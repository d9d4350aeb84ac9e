package metrics

import (
    "strconv"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    ElectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "partition",
        Subsystem: "raft",
        Name:      "elections_total",
        Help:      "Total election attempts by result (won, lost, superseded)",
    }, []string{"partition", "result"})

    ElectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: "partition",
        Subsystem: "raft",
        Name:      "election_duration_seconds",
        Help:      "Time from becoming candidate until the vote quorum resolved",
        Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
    }, []string{"partition"})

    ElectionTimerFired = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "partition",
        Subsystem: "raft",
        Name:      "election_timer_fired_total",
        Help:      "Total election timer firings by timer kind (priority, randomized)",
    }, []string{"partition", "kind"})

    NodePriority = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "partition",
        Subsystem: "raft",
        Name:      "node_priority",
        Help:      "Current election priority of this replica",
    }, []string{"partition"})

    Role = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "partition",
        Subsystem: "raft",
        Name:      "role",
        Help:      "1 for the role this replica currently holds, 0 otherwise",
    }, []string{"partition", "role"})

    Term = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "partition",
        Subsystem: "raft",
        Name:      "term",
        Help:      "Current raft term observed by this replica",
    }, []string{"partition"})

    QuorumResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "partition",
        Subsystem: "quorum",
        Name:      "resolutions_total",
        Help:      "Total resolved vote quorums by kind (simple, joint, force) and result",
    }, []string{"kind", "result"})

    Reconfigurations = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "partition",
        Subsystem: "raft",
        Name:      "reconfigurations_total",
        Help:      "Total membership reconfigurations by kind (joint, force) and result",
    }, []string{"partition", "kind", "result"})

    CompactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "partition",
        Subsystem: "log",
        Name:      "compactions_total",
        Help:      "Total log compactions that deleted entries",
    }, []string{"partition"})

    CompactionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: "partition",
        Subsystem: "log",
        Name:      "compaction_duration_seconds",
        Help:      "Time spent truncating the log",
        Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
    }, []string{"partition"})

    CompactableIndex = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "partition",
        Subsystem: "log",
        Name:      "compactable_index",
        Help:      "Highest log index covered by a retained snapshot",
    }, []string{"partition"})

    StepDowns = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "partition",
        Subsystem: "raft",
        Name:      "step_downs_total",
        Help:      "Total step-down evaluations by result (delegated, skipped, failed)",
    }, []string{"partition", "result"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "partition",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "partition",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "partition",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "partition",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(ElectionsTotal)
        prometheus.MustRegister(ElectionDuration)
        prometheus.MustRegister(ElectionTimerFired)
        prometheus.MustRegister(NodePriority)
        prometheus.MustRegister(Role)
        prometheus.MustRegister(Term)
        prometheus.MustRegister(QuorumResolutions)
        prometheus.MustRegister(Reconfigurations)
        prometheus.MustRegister(CompactionsTotal)
        prometheus.MustRegister(CompactionDuration)
        prometheus.MustRegister(CompactableIndex)
        prometheus.MustRegister(StepDowns)
        // grpc connection pool
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}

// Label renders a partition id as a metric label value.
func Label(partitionID int) string { return strconv.Itoa(partitionID) }

// SetRole flips the role gauge so exactly one role reports 1.
func SetRole(partition, role string) {
    for _, r := range []string{"follower", "candidate", "leader"} {
        v := 0.0
        if r == role { v = 1 }
        Role.WithLabelValues(partition, r).Set(v)
    }
}

// CompactionMetrics records log compaction for one partition.
type CompactionMetrics struct {
    partition string
}

func Compaction(partitionID int) *CompactionMetrics {
    return &CompactionMetrics{partition: Label(partitionID)}
}

func (c *CompactionMetrics) ObserveCompaction(d time.Duration, deleted bool) {
    CompactionDuration.WithLabelValues(c.partition).Observe(d.Seconds())
    if deleted { CompactionsTotal.WithLabelValues(c.partition).Inc() }
}

func (c *CompactionMetrics) SetCompactableIndex(index uint64) {
    CompactableIndex.WithLabelValues(c.partition).Set(float64(index))
}
