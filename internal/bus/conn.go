// Package bus connects the orchestrator to the platform event bus over NATS.
// Inbound events are decoded and queued per call, at most a bounded number
// handled at once; outbound push notifications are published back as bus
// events.
package bus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect dials the NATS server at url. Connection state changes are logged
// on logger.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With("subsystem", "bus")

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(10 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", "subject", subject, "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connecting to %s: %w", url, err)
	}

	logger.Info("connected to nats", "url", nc.ConnectedUrl())
	return nc, nil
}
