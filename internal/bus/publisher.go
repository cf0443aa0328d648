package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/flowpbx/dialmobile/internal/push"
)

// Outbound event names.
const (
	NamePushNotification       = "call_push_notification"
	NameCancelPushNotification = "call_cancel_push_notification"
)

// outboundMessage is the envelope of events published by the orchestrator.
type outboundMessage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RequiredACL string `json:"required_acl"`
	Data        any    `json:"data"`
}

// pushPayload is the data of a call_push_notification event.
type pushPayload struct {
	PeerCallerIDNumber    string `json:"peer_caller_id_number"`
	PeerCallerIDName      string `json:"peer_caller_id_name"`
	CallID                string `json:"call_id"`
	Video                 bool   `json:"video"`
	SIPCallID             string `json:"sip_call_id"`
	RingTimeout           string `json:"ring_timeout"`
	MobileWakeupTimestamp string `json:"mobile_wakeup_timestamp"`
}

// cancelPayload is the data of a call_cancel_push_notification event.
type cancelPayload struct {
	PeerCallerIDNumber string `json:"peer_caller_id_number"`
	PeerCallerIDName   string `json:"peer_caller_id_name"`
	CallID             string `json:"call_id"`
	SIPCallID          string `json:"sip_call_id"`
}

// Publisher emits push and cancel notifications on the bus, where the
// user's connected clients and the notification service pick them up. It
// implements push.Dispatcher.
type Publisher struct {
	publish func(*nats.Msg) error
	prefix  string
	logger  *slog.Logger
	now     func() time.Time
}

// NewPublisher creates a Publisher on nc. Events are published to
// "<prefix>.calls.<user_uuid>".
func NewPublisher(nc *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	return newPublisher(nc.PublishMsg, prefix, logger)
}

func newPublisher(publish func(*nats.Msg) error, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		publish: publish,
		prefix:  prefix,
		logger:  logger.With("subsystem", "bus_publisher"),
		now:     time.Now,
	}
}

// Notify publishes a call_push_notification event for n.
func (p *Publisher) Notify(ctx context.Context, n push.Notification) error {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	return p.send(ctx, NamePushNotification, n, pushPayload{
		PeerCallerIDNumber:    n.CallerNum,
		PeerCallerIDName:      n.CallerName,
		CallID:                n.CallID(),
		Video:                 n.Video,
		SIPCallID:             n.ExternalCallID,
		RingTimeout:           n.RingTimeout,
		MobileWakeupTimestamp: ts.UTC().Format(time.RFC3339Nano),
	})
}

// Cancel publishes a call_cancel_push_notification event for n.
func (p *Publisher) Cancel(ctx context.Context, n push.Notification) error {
	return p.send(ctx, NameCancelPushNotification, n, cancelPayload{
		PeerCallerIDNumber: n.CallerNum,
		PeerCallerIDName:   n.CallerName,
		CallID:             n.CallID(),
		SIPCallID:          n.ExternalCallID,
	})
}

func (p *Publisher) send(ctx context.Context, name string, n push.Notification, data any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bus: publishing %s: %w", name, err)
	}
	if n.User == "" {
		return fmt.Errorf("bus: publishing %s: notification has no user", name)
	}

	body, err := json.Marshal(outboundMessage{
		ID:          uuid.New().String(),
		Name:        name,
		RequiredACL: "events.calls." + n.User,
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("bus: encoding %s: %w", name, err)
	}

	msg := nats.NewMsg(p.prefix + "." + callsToken + "." + n.User)
	msg.Data = body
	msg.Header.Set(HeaderName, name)
	if n.Tenant != "" {
		msg.Header.Set("tenant_uuid", n.Tenant)
	}
	msg.Header.Set("user_uuid:"+n.User, "true")

	if err := p.publish(msg); err != nil {
		return fmt.Errorf("bus: publishing %s: %w", name, err)
	}

	p.logger.Debug("published bus event", "name", name, "subject", msg.Subject, "linkedid", n.LinkedID)
	return nil
}
