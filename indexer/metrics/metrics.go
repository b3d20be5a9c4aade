package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters and histograms, partitioned by event type where it applies.

var (
	// Listener
	ListenerLastBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mirror",
		Subsystem: "listener",
		Name:      "last_processed_block",
		Help:      "Last block fully processed by the chain listener",
	})

	ListenerLogsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "listener",
		Name:      "logs_received_total",
		Help:      "Total contract logs received from the chain",
	}, []string{"event"})

	ListenerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "listener",
		Name:      "errors_total",
		Help:      "Total listener poll errors (after retry exhaustion)",
	})

	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total JSON-RPC calls by operation and outcome",
	}, []string{"operation", "outcome"})

	// Normalizer
	MalformedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "normalizer",
		Name:      "malformed_events_total",
		Help:      "Total logs rejected during normalization",
	}, []string{"event"})

	// Reconciler
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "reconciler",
		Name:      "events_total",
		Help:      "Total apply attempts by event type and outcome",
	}, []string{"event_type", "outcome"})

	ApplyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mirror",
		Subsystem: "reconciler",
		Name:      "apply_duration_seconds",
		Help:      "Duration of a single apply including the ledger update",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"event_type"})

	// Sweeper
	SweeperRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "sweeper",
		Name:      "retries_total",
		Help:      "Total ledger entries resubmitted by the sweeper",
	}, []string{"event_type"})

	SweeperTerminalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "sweeper",
		Name:      "terminal_failures_total",
		Help:      "Total ledger entries that reached the retry ceiling",
	}, []string{"event_type"})

	// Likes
	LikeToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "likes",
		Name:      "toggles_total",
		Help:      "Total like toggles by resulting state",
	}, []string{"state"})

	// Query server
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route and status code",
	}, []string{"route", "code"})
)

// Apply outcomes.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeDuplicate  = "duplicate"
	OutcomeRetryable  = "retryable"
	OutcomeTerminal   = "terminal"
	OutcomeUnrecorded = "unrecorded"
)
