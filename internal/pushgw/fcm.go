package pushgw

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmRingTTL bounds how long FCM keeps an undelivered incoming-call message.
const fcmRingTTL = 30 * time.Second

// messagingClient is the subset of *messaging.Client the sender uses.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender sends push notifications via Firebase Cloud Messaging.
type FCMSender struct {
	client messagingClient
	logger *slog.Logger
}

// NewFCMSender initialises a Firebase app from the service-account JSON
// file at credentialsFile and returns a ready-to-use FCMSender.
// If credentialsFile is empty, the SDK falls back to
// GOOGLE_APPLICATION_CREDENTIALS or the default service account.
func NewFCMSender(ctx context.Context, credentialsFile string, logger *slog.Logger) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	logger = logger.With("subsystem", "fcm")
	logger.Info("fcm sender initialised")
	return &FCMSender{client: client, logger: logger}, nil
}

// Send delivers a data message to the given FCM registration token.
// It only handles the "fcm" platform; APNs tokens are rejected.
func (f *FCMSender) Send(ctx context.Context, platform, token string, payload Payload) error {
	if platform != "fcm" {
		return fmt.Errorf("fcm sender: unsupported platform %q", platform)
	}

	id, err := f.client.Send(ctx, buildFCMMessage(token, payload))
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("fcm: %w: %v", ErrTokenInvalid, err)
		}
		return fmt.Errorf("fcm: send failed: %w", err)
	}

	f.logger.Debug("fcm message sent", "message_id", id, "type", payload.Type, "call_id", payload.CallID)
	return nil
}

// buildFCMMessage creates a high priority data-only message. Cancels get no
// TTL so a late cancel still reaches a device that received the ring.
func buildFCMMessage(token string, payload Payload) *messaging.Message {
	android := &messaging.AndroidConfig{Priority: "high"}
	if payload.Type == TypeIncomingCall {
		ttl := fcmRingTTL
		android.TTL = &ttl
	}
	return &messaging.Message{
		Token:   token,
		Data:    payload.Data(),
		Android: android,
	}
}
