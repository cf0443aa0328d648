package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PendingProvider exposes the number of unresolved mobile pushes.
type PendingProvider interface {
	PendingCount() int
}

// SessionProvider exposes the number of users with a mobile session.
type SessionProvider interface {
	RegisteredUsers() int
}

// TokenCounter returns the number of stored device push tokens.
type TokenCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers orchestrator gauges at
// scrape time.
type Collector struct {
	pending   PendingProvider
	sessions  SessionProvider
	tokens    TokenCounter
	startTime time.Time

	pendingDesc  *prometheus.Desc
	sessionsDesc *prometheus.Desc
	tokensDesc   *prometheus.Desc
	uptimeDesc   *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(pending PendingProvider, sessions SessionProvider, tokens TokenCounter, startTime time.Time) *Collector {
	return &Collector{
		pending:   pending,
		sessions:  sessions,
		tokens:    tokens,
		startTime: startTime,

		pendingDesc: prometheus.NewDesc(
			"dialmobile_pending_pushes",
			"Number of mobile pushes awaiting answer or cancellation",
			nil, nil,
		),
		sessionsDesc: prometheus.NewDesc(
			"dialmobile_registered_users",
			"Number of users with at least one mobile session",
			nil, nil,
		),
		tokensDesc: prometheus.NewDesc(
			"dialmobile_push_tokens",
			"Number of stored device push tokens",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialmobile_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pendingDesc
	ch <- c.sessionsDesc
	ch <- c.tokensDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.pending != nil {
		ch <- prometheus.MustNewConstMetric(
			c.pendingDesc, prometheus.GaugeValue,
			float64(c.pending.PendingCount()),
		)
	}

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.sessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.RegisteredUsers()),
		)
	}

	if c.tokens != nil {
		count, err := c.tokens.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count push tokens", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.tokensDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
