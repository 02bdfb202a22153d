package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks RPC calls per method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "histprobe_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"method"},
	)

	// RPCErrorsTotal tracks RPC errors per method
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "histprobe_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"method"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "histprobe_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ProbeVerdictsTotal tracks probe verdicts per capability
	ProbeVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "histprobe_probe_verdicts_total",
			Help: "Total number of capability probe verdicts",
		},
		[]string{"capability", "verdict"},
	)

	// BoundaryBlock records the discovered boundary per capability
	BoundaryBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "histprobe_boundary_block",
			Help: "Oldest block at which the capability still works",
		},
		[]string{"capability"},
	)

	// ChainHead records the chain head the run was pinned to
	ChainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "histprobe_chain_head",
			Help: "Chain head block number at run start",
		},
	)
)

// ObserveCall feeds the RPC counters; wired into the node client as its
// call observer.
func ObserveCall(method string, latency time.Duration, err error) {
	RPCCallsTotal.WithLabelValues(method).Inc()
	RPCLatency.WithLabelValues(method).Observe(latency.Seconds())
	if err != nil {
		RPCErrorsTotal.WithLabelValues(method).Inc()
	}
}
