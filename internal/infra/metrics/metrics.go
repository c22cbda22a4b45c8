package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder observes every classified controller result.
type Recorder interface {
	ObserveResult(operation, status string)
	ObserveAttention(operation string)
}

// Counters keeps in-process totals.
type Counters struct {
	ResultsProcessed  uint64
	ResultsSucceeded  uint64
	ResultsPending    uint64
	ResultsFailed     uint64
	ResultsUnknown    uint64
	AttentionRequired uint64
}

func (c *Counters) ObserveResult(_ string, status string) {
	atomic.AddUint64(&c.ResultsProcessed, 1)
	switch status {
	case "SUCCESS":
		atomic.AddUint64(&c.ResultsSucceeded, 1)
	case "PENDING":
		atomic.AddUint64(&c.ResultsPending, 1)
	case "FAILED":
		atomic.AddUint64(&c.ResultsFailed, 1)
	default:
		atomic.AddUint64(&c.ResultsUnknown, 1)
	}
}

func (c *Counters) ObserveAttention(string) {
	atomic.AddUint64(&c.AttentionRequired, 1)
}

func (c *Counters) Processed() uint64 { return atomic.LoadUint64(&c.ResultsProcessed) }
func (c *Counters) Succeeded() uint64 { return atomic.LoadUint64(&c.ResultsSucceeded) }
func (c *Counters) Pending() uint64   { return atomic.LoadUint64(&c.ResultsPending) }
func (c *Counters) Failed() uint64    { return atomic.LoadUint64(&c.ResultsFailed) }
func (c *Counters) Unknown() uint64   { return atomic.LoadUint64(&c.ResultsUnknown) }

// Prometheus exports the same observations as labelled counters.
type Prometheus struct {
	results   *prometheus.CounterVec
	attention *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_controller_results_total",
			Help: "Controller results by operation and status.",
		}, []string{"operation", "status"}),
		attention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_controller_attention_required_total",
			Help: "Transactions flagged for manual review.",
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{p.results, p.attention} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) ObserveResult(operation, status string) {
	p.results.WithLabelValues(operation, status).Inc()
}

func (p *Prometheus) ObserveAttention(operation string) {
	p.attention.WithLabelValues(operation).Inc()
}

// Multi fans observations out to several recorders.
type Multi []Recorder

func (m Multi) ObserveResult(operation, status string) {
	for _, r := range m {
		r.ObserveResult(operation, status)
	}
}

func (m Multi) ObserveAttention(operation string) {
	for _, r := range m {
		r.ObserveAttention(operation)
	}
}
