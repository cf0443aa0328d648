package dialmobile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowpbx/dialmobile/internal/event"
	"github.com/flowpbx/dialmobile/internal/push"
)

// Router turns raw bus events into Service calls. It is safe for concurrent
// use; events for different calls may be routed in parallel.
type Router struct {
	svc    *Service
	filter event.Filter
	logger *slog.Logger
}

// NewRouter creates a Router feeding svc.
func NewRouter(svc *Service, filter event.Filter, logger *slog.Logger) *Router {
	return &Router{
		svc:    svc,
		filter: filter,
		logger: logger.With("subsystem", "router"),
	}
}

// Handle classifies a raw event and routes it if it is relevant. Irrelevant
// events are dropped without logging above debug level.
func (r *Router) Handle(ctx context.Context, name string, data map[string]any) {
	ev, ok := event.Classify(name, data, r.filter)
	if !ok {
		return
	}
	r.Route(ctx, ev)
}

// Route performs the single Service call matching ev.
func (r *Router) Route(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case event.SessionCreated:
		r.svc.SessionCreated(ctx, e.User)
	case event.SessionDeleted:
		r.svc.SessionDeleted(ctx, e.User)
	case event.RingRequiresPush:
		r.svc.SendPush(ctx, notificationFromRing(e))
	case event.BridgeEntered:
		r.svc.BridgeEntered(ctx, e)
	case event.DialEnded:
		r.svc.DialEnded(ctx, e)
	default:
		r.logger.Debug("unhandled event type", "type", fmt.Sprintf("%T", ev))
	}
}

func notificationFromRing(e event.RingRequiresPush) push.Notification {
	return push.Notification{
		LinkedID:       e.LinkedID,
		UniqueID:       e.UniqueID,
		ExternalCallID: e.ExternalCallID,
		Tenant:         e.Tenant,
		User:           e.User,
		CallerName:     e.CallerName,
		CallerNum:      e.CallerNum,
		Video:          e.Video,
		RingTimeout:    e.RingTimeout,
		Timestamp:      e.Timestamp,
	}
}
