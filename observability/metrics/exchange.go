package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Exchange bundles the prometheus collectors for the commitment core. A
// fresh set is allocated per Exchange instance and registered onto the
// node's registry at startup.
type Exchange struct {
	BlocksApplied      prometheus.Counter
	DepositsRecorded   prometheus.Counter
	ClaimsExecuted     prometheus.Counter
	MerkleExits        prometheus.Counter
	ForcedRequestsOpen prometheus.Gauge
	ModeGauge          prometheus.Gauge
}

// NewExchange allocates the collector set.
func NewExchange() *Exchange {
	return &Exchange{
		BlocksApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkex_blocks_applied_total",
			Help: "Count of batch commitment blocks applied to the log.",
		}),
		DepositsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkex_deposits_recorded_total",
			Help: "Count of deposits recorded into the pending queue.",
		}),
		ClaimsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkex_claims_executed_total",
			Help: "Count of withdrawable balance claims paid out.",
		}),
		MerkleExits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkex_merkle_exits_total",
			Help: "Count of emergency merkle exits credited.",
		}),
		ForcedRequestsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zkex_forced_requests_open",
			Help: "Number of occupied forced-withdrawal slots.",
		}),
		ModeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zkex_mode",
			Help: "Current operating mode (1 normal, 2 shutdown pending, 3 withdrawal).",
		}),
	}
}

// Register attaches every collector to reg.
func (m *Exchange) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.BlocksApplied,
		m.DepositsRecorded,
		m.ClaimsExecuted,
		m.MerkleExits,
		m.ForcedRequestsOpen,
		m.ModeGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
