package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quorumdb"

// Recorder holds every collector a node reports to. One Recorder is created
// per node and handed to each component.
type Recorder struct {
	RaftIsLeader      prometheus.Gauge
	RaftTerm          prometheus.Gauge
	RaftCommitIndex   prometheus.Gauge
	RaftAppliedIndex  prometheus.Gauge
	RaftLastLogIndex  prometheus.Gauge
	RaftElections     prometheus.Counter
	RaftVotesGranted  prometheus.Counter
	RaftMessagesTotal *prometheus.CounterVec
	RaftStaleTerm     prometheus.Counter
	RaftAppendRejects prometheus.Counter
	RaftProposals     *prometheus.CounterVec

	MembershipNodes    *prometheus.GaugeVec
	MembershipFailures prometheus.Counter
	HeartbeatMisses    *prometheus.CounterVec

	ReplicaOpsTotal     *prometheus.CounterVec
	ReplicaOpDuration   *prometheus.HistogramVec
	ConsistencyFailures *prometheus.CounterVec
	ReadRepairs         prometheus.Counter

	StorageKeysTotal       prometheus.Gauge
	StorageOperationsTotal *prometheus.CounterVec

	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
	GRPCInFlight        *prometheus.GaugeVec
}

// New registers a full set of collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)

	return &Recorder{
		RaftIsLeader: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "is_leader",
			Help:      "Whether this node is the Raft leader (1=leader, 0=follower)",
		}),
		RaftTerm: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "term",
			Help:      "Current Raft term",
		}),
		RaftCommitIndex: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "commit_index",
			Help:      "Current Raft commit index",
		}),
		RaftAppliedIndex: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "applied_index",
			Help:      "Last applied Raft index",
		}),
		RaftLastLogIndex: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "last_log_index",
			Help:      "Index of the last entry in the local log",
		}),
		RaftElections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "elections_total",
			Help:      "Elections started by this node",
		}),
		RaftVotesGranted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "votes_granted_total",
			Help:      "Votes granted by this node",
		}),
		RaftMessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "messages_total",
			Help:      "Total Raft messages sent/received",
		}, []string{"direction", "type"}),
		RaftStaleTerm: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "stale_term_messages_total",
			Help:      "Messages received with a term older than the current one",
		}),
		RaftAppendRejects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "append_rejections_total",
			Help:      "Append responses rejected because of log prefix mismatch",
		}),
		RaftProposals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "proposals_total",
			Help:      "Proposals submitted to this node",
		}, []string{"status"}),

		MembershipNodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "nodes",
			Help:      "Known nodes by liveness status",
		}, []string{"status"}),
		MembershipFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "failures_total",
			Help:      "Active to failed transitions observed",
		}),
		HeartbeatMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "heartbeat_misses_total",
			Help:      "Heartbeats that could not be delivered",
		}, []string{"peer_id"}),

		ReplicaOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "operations_total",
			Help:      "Coordinated reads and writes",
		}, []string{"op", "level", "result"}),
		ReplicaOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "operation_duration_seconds",
			Help:      "Coordinated operation duration",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"op"}),
		ConsistencyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "consistency_failures_total",
			Help:      "Operations that did not reach the required acknowledgements",
		}, []string{"op", "level"}),
		ReadRepairs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "read_repairs_total",
			Help:      "Replica writes issued by read repair",
		}),

		StorageKeysTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "keys_total",
			Help:      "Total keys in storage",
		}),
		StorageOperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total storage operations",
		}, []string{"operation"}),

		GRPCRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total gRPC requests",
		}, []string{"service", "method", "code"}),
		GRPCRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "gRPC request duration",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"service", "method"}),
		GRPCInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_in_flight",
			Help:      "Peer requests currently being handled",
		}, []string{"method"}),
	}
}

// NewDiscard returns a Recorder backed by a private registry. Tests and
// tools that do not expose metrics use it.
func NewDiscard() *Recorder {
	return New(prometheus.NewRegistry())
}
