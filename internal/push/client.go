package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowpbx/dialmobile/internal/database/models"
)

// ErrTokenInvalid is returned when the gateway reports that a device token is
// no longer registered with its platform.
var ErrTokenInvalid = errors.New("push: device token no longer valid")

// PushRequest is the payload sent to the push gateway's POST /v1/push endpoint.
type PushRequest struct {
	LicenseKey   string `json:"license_key"`
	PushToken    string `json:"push_token"`
	PushPlatform string `json:"push_platform"` // "fcm" or "apns"
	CallID       string `json:"call_id"`
	SIPCallID    string `json:"sip_call_id,omitempty"`
	CallerName   string `json:"caller_name,omitempty"`
	CallerNumber string `json:"caller_number,omitempty"`
	Video        bool   `json:"video"`
	RingTimeout  string `json:"ring_timeout,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// CancelRequest is the payload sent to POST /v1/push/cancel.
type CancelRequest struct {
	LicenseKey   string `json:"license_key"`
	PushToken    string `json:"push_token"`
	PushPlatform string `json:"push_platform"`
	CallID       string `json:"call_id"`
	SIPCallID    string `json:"sip_call_id,omitempty"`
}

// PushResponse is the response from POST /v1/push and /v1/push/cancel.
type PushResponse struct {
	Delivered bool   `json:"delivered"`
	CallID    string `json:"call_id"`
}

// envelope is the standard push gateway response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// TokenStore looks up and prunes the device tokens a user registered.
type TokenStore interface {
	ListByUser(ctx context.Context, userUUID string) ([]models.PushToken, error)
	DeleteByToken(ctx context.Context, token string) error
}

// Client is an HTTP client for the push gateway service. It fans a call's
// notification out to every device the target user registered.
type Client struct {
	httpClient *http.Client
	baseURL    string
	licenseKey string
	tokens     TokenStore
	logger     *slog.Logger
}

// NewClient creates a new push gateway HTTP client.
// baseURL is the push gateway endpoint (e.g., "https://push.example.com").
// licenseKey is the instance's license key sent with each request.
func NewClient(baseURL, licenseKey string, tokens TokenStore, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		licenseKey: licenseKey,
		tokens:     tokens,
		logger:     logger.With("subsystem", "push-gateway"),
	}
}

// Configured returns true if the client has a valid base URL and license key.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.licenseKey != ""
}

// Notify wakes every device of the notification's user. It returns an error
// only if no device could be reached.
func (c *Client) Notify(ctx context.Context, n Notification) error {
	var ts string
	if !n.Timestamp.IsZero() {
		ts = n.Timestamp.Format(time.RFC3339Nano)
	}
	return c.each(ctx, n, "/v1/push", func(tok models.PushToken) any {
		return PushRequest{
			LicenseKey:   c.licenseKey,
			PushToken:    tok.Token,
			PushPlatform: tok.Platform,
			CallID:       n.CallID(),
			SIPCallID:    n.ExternalCallID,
			CallerName:   n.CallerName,
			CallerNumber: n.CallerNum,
			Video:        n.Video,
			RingTimeout:  n.RingTimeout,
			Timestamp:    ts,
		}
	})
}

// Cancel tells every device of the notification's user to stop ringing.
func (c *Client) Cancel(ctx context.Context, n Notification) error {
	return c.each(ctx, n, "/v1/push/cancel", func(tok models.PushToken) any {
		return CancelRequest{
			LicenseKey:   c.licenseKey,
			PushToken:    tok.Token,
			PushPlatform: tok.Platform,
			CallID:       n.CallID(),
			SIPCallID:    n.ExternalCallID,
		}
	})
}

func (c *Client) each(ctx context.Context, n Notification, path string, build func(models.PushToken) any) error {
	if !c.Configured() {
		return fmt.Errorf("push: gateway not configured")
	}

	tokens, err := c.tokens.ListByUser(ctx, n.User)
	if err != nil {
		return fmt.Errorf("push: listing device tokens: %w", err)
	}
	if len(tokens) == 0 {
		c.logger.Debug("no device tokens for user", "user_uuid", n.User, "linkedid", n.LinkedID)
		return nil
	}

	var errs []error
	delivered := 0
	for _, tok := range tokens {
		resp, err := c.post(ctx, path, build(tok))
		if err == nil && !resp.Delivered {
			err = fmt.Errorf("push: gateway did not deliver")
		}
		switch {
		case errors.Is(err, ErrTokenInvalid):
			c.logger.Info("removing invalid device token",
				"user_uuid", n.User,
				"device_id", tok.DeviceID,
				"platform", tok.Platform,
			)
			if delErr := c.tokens.DeleteByToken(ctx, tok.Token); delErr != nil {
				c.logger.Error("failed to delete invalid device token", "error", delErr)
			}
			errs = append(errs, err)
		case err != nil:
			errs = append(errs, fmt.Errorf("device %s: %w", tok.DeviceID, err))
		default:
			delivered++
		}
	}

	c.logger.Debug("push requests sent",
		"path", path,
		"linkedid", n.LinkedID,
		"devices", len(tokens),
		"delivered", delivered,
	)

	if delivered == 0 {
		return errors.Join(errs...)
	}
	return nil
}

// post sends one JSON request to the gateway and decodes the enveloped
// PushResponse.
func (c *Client) post(ctx context.Context, path string, payload any) (*PushResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("push: marshalling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("push: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-License-Key", c.licenseKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("push: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("push: reading response: %w", err)
	}

	if resp.StatusCode == http.StatusGone {
		return nil, ErrTokenInvalid
	}
	if resp.StatusCode != http.StatusOK {
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return nil, fmt.Errorf("push: gateway error (status %d): %s", resp.StatusCode, env.Error)
		}
		return nil, fmt.Errorf("push: gateway returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("push: decoding response: %w", err)
	}

	var pushResp PushResponse
	if err := json.Unmarshal(env.Data, &pushResp); err != nil {
		return nil, fmt.Errorf("push: decoding push response data: %w", err)
	}
	return &pushResp, nil
}
