package metrics

import "github.com/prometheus/client_golang/prometheus"

// Counters tracks push lifecycle events as they happen. It satisfies the
// dialmobile observer interface.
type Counters struct {
	sent             prometheus.Counter
	resolved         *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
}

// NewCounters creates the push lifecycle counters. Register them with a
// prometheus.Registerer before use.
func NewCounters() *Counters {
	return &Counters{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dialmobile_pushes_sent_total",
			Help: "Mobile pushes recorded for incoming calls",
		}),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dialmobile_pushes_resolved_total",
			Help: "Pending mobile pushes resolved, by outcome",
		}, []string{"outcome"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dialmobile_dispatch_failures_total",
			Help: "Push dispatcher calls that failed, by operation",
		}, []string{"op"}),
	}
}

// Describe implements prometheus.Collector.
func (c *Counters) Describe(ch chan<- *prometheus.Desc) {
	c.sent.Describe(ch)
	c.resolved.Describe(ch)
	c.dispatchFailures.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Counters) Collect(ch chan<- prometheus.Metric) {
	c.sent.Collect(ch)
	c.resolved.Collect(ch)
	c.dispatchFailures.Collect(ch)
}

// PushSent counts a newly recorded push.
func (c *Counters) PushSent() { c.sent.Inc() }

// PushResolved counts a pending push leaving the table.
func (c *Counters) PushResolved(outcome string) { c.resolved.WithLabelValues(outcome).Inc() }

// DispatchFailed counts a failed notify or cancel.
func (c *Counters) DispatchFailed(op string) { c.dispatchFailures.WithLabelValues(op).Inc() }
