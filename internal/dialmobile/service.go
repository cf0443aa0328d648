// Package dialmobile decides, for calls that ring a user's mobile app through
// a push notification, whether that push must be withdrawn. It reconciles
// mobile session events with the call's signaling events (bridge entry and
// dial completion), which arrive independently and in any order.
package dialmobile

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowpbx/dialmobile/internal/event"
	"github.com/flowpbx/dialmobile/internal/push"
	"github.com/flowpbx/dialmobile/internal/resolver"
)

// Resolution outcomes reported to the Observer.
const (
	OutcomeAnswered  = "answered"
	OutcomeCancelled = "cancelled"
	OutcomeExpired   = "expired"
)

// Dispatcher operations reported to the Observer on failure.
const (
	OpNotify = "notify"
	OpCancel = "cancel"
)

// Observer receives orchestration counters. Implementations must be safe for
// concurrent use.
type Observer interface {
	PushSent()
	PushResolved(outcome string)
	DispatchFailed(op string)
}

// HintUpdater publishes whether a user's mobile app is reachable, so the
// dialplan can ring it.
type HintUpdater interface {
	SetMobileHint(ctx context.Context, user string, reachable bool) error
}

type nopObserver struct{}

func (nopObserver) PushSent()             {}
func (nopObserver) PushResolved(string)   {}
func (nopObserver) DispatchFailed(string) {}

// Config bounds the time spent on external calls from the event path.
type Config struct {
	// DispatchTimeout bounds each notify or cancel call.
	DispatchTimeout time.Duration
	// ResolveTimeout bounds each channel lookup.
	ResolveTimeout time.Duration
	// PendingTTL, when positive, drops pending pushes that were never
	// resolved after this long. Zero keeps them until resolution.
	PendingTTL time.Duration
}

// DefaultConfig returns the timeouts used when none are configured.
func DefaultConfig() Config {
	return Config{
		DispatchTimeout: 5 * time.Second,
		ResolveTimeout:  2 * time.Second,
	}
}

// Service owns the mobile session registry and the pending push table and
// performs every state transition on them.
type Service struct {
	cfg        Config
	registry   *Registry
	pending    *PendingTable
	dispatcher push.Dispatcher
	resolver   resolver.Resolver
	observer   Observer
	hints      HintUpdater
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a Service. observer may be nil.
func NewService(cfg Config, dispatcher push.Dispatcher, res resolver.Resolver, observer Observer, logger *slog.Logger) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	def := DefaultConfig()
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = def.DispatchTimeout
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = def.ResolveTimeout
	}
	return &Service{
		cfg:        cfg,
		registry:   NewRegistry(),
		pending:    NewPendingTable(),
		dispatcher: dispatcher,
		resolver:   res,
		observer:   observer,
		logger:     logger.With("subsystem", "dialmobile"),
		now:        time.Now,
	}
}

// SetHintUpdater makes session changes update the user's mobile hint. It must
// be called before the Service handles events.
func (s *Service) SetHintUpdater(h HintUpdater) {
	s.hints = h
}

// SessionCreated records that user opened a mobile session and marks the
// mobile reachable.
func (s *Service) SessionCreated(ctx context.Context, user string) {
	n := s.registry.SessionCreated(user)
	s.logger.Debug("mobile session created", "user_uuid", user, "sessions", n)
	s.updateHint(ctx, user, true)
}

// SessionDeleted records that one of user's mobile sessions ended. The mobile
// stays reachable while another session remains.
func (s *Service) SessionDeleted(ctx context.Context, user string) {
	n := s.registry.SessionDeleted(user)
	s.logger.Debug("mobile session deleted", "user_uuid", user, "sessions", n)
	s.updateHint(ctx, user, n > 0)
}

func (s *Service) updateHint(ctx context.Context, user string, reachable bool) {
	if s.hints == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	defer cancel()
	if err := s.hints.SetMobileHint(ctx, user, reachable); err != nil {
		s.logger.Warn("failed to update mobile hint",
			"user_uuid", user,
			"reachable", reachable,
			"error", err,
		)
	}
}

// IsRegistered reports whether user currently has a mobile session.
func (s *Service) IsRegistered(user string) bool {
	return s.registry.IsRegistered(user)
}

// RegisteredUsers returns how many users have a mobile session.
func (s *Service) RegisteredUsers() int {
	return s.registry.Users()
}

// HasPendingPush reports whether a push awaits resolution for linkedID.
func (s *Service) HasPendingPush(linkedID string) bool {
	return s.pending.Has(linkedID)
}

// PendingPushes returns a snapshot of unresolved pushes, oldest first.
func (s *Service) PendingPushes() []PendingPush {
	return s.pending.List()
}

// PendingCount returns the number of unresolved pushes.
func (s *Service) PendingCount() int {
	return s.pending.Len()
}

// SendPush records a pending push for the call and wakes the user's mobile
// app. A second push for a call that already has one is dropped. Delivery
// failures are logged; the push stays pending either way.
func (s *Service) SendPush(ctx context.Context, n push.Notification) {
	if !s.pending.Add(PendingPush{Notification: n, PushedAt: s.now()}) {
		s.logger.Debug("push already pending for call, ignoring", "linkedid", n.LinkedID)
		return
	}
	s.observer.PushSent()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()

	if err := s.dispatcher.Notify(ctx, n); err != nil {
		s.observer.DispatchFailed(OpNotify)
		s.logger.Warn("failed to send mobile push",
			"linkedid", n.LinkedID,
			"user_uuid", n.User,
			"error", err,
		)
		return
	}

	s.logger.Info("mobile push sent",
		"linkedid", n.LinkedID,
		"user_uuid", n.User,
		"tenant_uuid", n.Tenant,
		"registered", s.registry.IsRegistered(n.User),
	)
}

// ResolveAnsweredByMobile clears the pending push for linkedID without
// telling the device anything: it is the device that answered. It reports
// whether a push was pending.
func (s *Service) ResolveAnsweredByMobile(linkedID string) bool {
	p, ok := s.pending.Take(linkedID)
	if !ok {
		return false
	}
	s.observer.PushResolved(OutcomeAnswered)
	s.logger.Info("mobile push answered",
		"linkedid", linkedID,
		"user_uuid", p.Notification.User,
		"elapsed_ms", s.now().Sub(p.PushedAt).Milliseconds(),
	)
	return true
}

// ResolveCancelled clears the pending push for linkedID and tells the device
// to stop ringing. It reports whether a push was pending.
func (s *Service) ResolveCancelled(ctx context.Context, linkedID string) bool {
	p, ok := s.pending.Take(linkedID)
	if !ok {
		return false
	}
	s.observer.PushResolved(OutcomeCancelled)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()

	if err := s.dispatcher.Cancel(ctx, p.Notification); err != nil {
		s.observer.DispatchFailed(OpCancel)
		s.logger.Warn("failed to cancel mobile push",
			"linkedid", linkedID,
			"user_uuid", p.Notification.User,
			"error", err,
		)
		return true
	}

	s.logger.Info("mobile push cancelled", "linkedid", linkedID, "user_uuid", p.Notification.User)
	return true
}

// BridgeEntered resolves the call's pending push when a channel joins one of
// the orchestrator's bridges: silently if the pushed mobile is the one that
// answered, with a cancellation otherwise.
func (s *Service) BridgeEntered(ctx context.Context, ev event.BridgeEntered) {
	if s.answeredByMobile(ctx, ev) {
		s.ResolveAnsweredByMobile(ev.LinkedID)
		return
	}
	s.ResolveCancelled(ctx, ev.LinkedID)
}

// answeredByMobile decides whether the channel that entered the bridge is the
// mobile woken by the push. A channel that cannot be looked up counts as not
// answered by mobile.
func (s *Service) answeredByMobile(ctx context.Context, ev event.BridgeEntered) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	defer cancel()

	res, err := s.resolver.Resolve(ctx, ev.ChannelID)
	if err != nil {
		s.logger.Warn("channel lookup failed, treating as not answered by mobile",
			"linkedid", ev.LinkedID,
			"channel_id", ev.ChannelID,
			"error", err,
		)
		return false
	}

	switch res.Status {
	case resolver.NotFound:
		s.logger.Debug("channel hung up before lookup",
			"linkedid", ev.LinkedID,
			"channel_id", ev.ChannelID,
		)
		return false
	case resolver.Found:
		user := res.Channel.User
		if user == "" {
			user = ev.User
		}
		return s.registry.IsRegistered(user) && s.pending.Has(ev.LinkedID)
	default:
		return false
	}
}

// DialEnded cancels the call's pending push when the wait-for-registration
// leg ends unanswered. An answered leg is resolved by BridgeEntered instead.
func (s *Service) DialEnded(ctx context.Context, ev event.DialEnded) {
	if ev.Answered() {
		return
	}
	s.ResolveCancelled(ctx, ev.CallID())
}

// SweepExpired drops pending pushes older than the configured TTL and returns
// how many were dropped. No cancellation is sent for them.
func (s *Service) SweepExpired() int {
	if s.cfg.PendingTTL <= 0 {
		return 0
	}
	expired := s.pending.TakeExpired(s.now().Add(-s.cfg.PendingTTL))
	for _, p := range expired {
		s.observer.PushResolved(OutcomeExpired)
		s.logger.Warn("pending push expired without resolution",
			"linkedid", p.Notification.LinkedID,
			"user_uuid", p.Notification.User,
			"pushed_at", p.PushedAt,
		)
	}
	return len(expired)
}

// Run sweeps expired pending pushes until ctx is cancelled. It returns
// immediately when no TTL is configured.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.PendingTTL <= 0 {
		return
	}

	interval := s.cfg.PendingTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpired()
		}
	}
}
