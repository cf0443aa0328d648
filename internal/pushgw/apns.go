package pushgw

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	apnsProductionURL = "https://api.push.apple.com"
	apnsSandboxURL    = "https://api.sandbox.push.apple.com"

	// APNs provider tokens are valid for up to 60 minutes.
	// Refresh at 50 minutes to avoid edge-case expiry.
	apnsTokenRefreshInterval = 50 * time.Minute
)

// APNsSender sends push notifications via Apple Push Notification service
// using the token-based (JWT) HTTP/2 provider API.
type APNsSender struct {
	client  *http.Client
	baseURL string
	topic   string // APNs topic (app bundle ID)
	logger  *slog.Logger

	// JWT signing fields.
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

// APNsConfig holds the configuration for creating an APNsSender.
type APNsConfig struct {
	// KeyFile is the path to the .p8 private key file from Apple.
	KeyFile string
	// KeyID is the 10-character key identifier from Apple.
	KeyID string
	// TeamID is the 10-character Apple Developer Team ID.
	TeamID string
	// BundleID is the app's bundle identifier, used as the APNs topic.
	BundleID string
	// Sandbox uses the APNs sandbox environment instead of production.
	Sandbox bool
	// Endpoint overrides the APNs base URL.
	Endpoint string
}

// NewAPNsSender creates an APNsSender from the given configuration.
func NewAPNsSender(cfg APNsConfig, logger *slog.Logger) (*APNsSender, error) {
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("apns: key file path is required")
	}
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("apns: key id is required")
	}
	if cfg.TeamID == "" {
		return nil, fmt.Errorf("apns: team id is required")
	}
	if cfg.BundleID == "" {
		return nil, fmt.Errorf("apns: bundle id is required")
	}

	keyData, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("apns: reading key file: %w", err)
	}

	key, err := parseP8PrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("apns: parsing p8 key: %w", err)
	}

	baseURL := apnsProductionURL
	if cfg.Sandbox {
		baseURL = apnsSandboxURL
	}
	if cfg.Endpoint != "" {
		baseURL = cfg.Endpoint
	}

	logger = logger.With("subsystem", "apns")
	logger.Info("apns sender initialised", "key_id", cfg.KeyID, "team_id", cfg.TeamID, "topic", cfg.BundleID, "sandbox", cfg.Sandbox)

	return &APNsSender{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		topic:   cfg.BundleID,
		logger:  logger,
		key:     key,
		keyID:   cfg.KeyID,
		teamID:  cfg.TeamID,
	}, nil
}

// Send delivers a push notification to the given APNs device token.
// Incoming calls go out as VoIP pushes; cancels as background pushes to the
// app topic, since every VoIP push must report a new call to CallKit.
func (a *APNsSender) Send(ctx context.Context, platform, token string, payload Payload) error {
	if platform != "apns" {
		return fmt.Errorf("apns sender: unsupported platform %q", platform)
	}

	providerToken, err := a.getProviderToken()
	if err != nil {
		return fmt.Errorf("apns: generating provider token: %w", err)
	}

	body, err := buildAPNsPayload(payload)
	if err != nil {
		return fmt.Errorf("apns: building payload: %w", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", a.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("apns: creating request: %w", err)
	}

	req.Header.Set("Authorization", "bearer "+providerToken)
	req.Header.Set("Content-Type", "application/json")
	if payload.Type == TypeIncomingCall {
		req.Header.Set("apns-topic", a.topic+".voip")
		req.Header.Set("apns-push-type", "voip")
		req.Header.Set("apns-priority", "10")
		req.Header.Set("apns-expiration", "0")
	} else {
		req.Header.Set("apns-topic", a.topic)
		req.Header.Set("apns-push-type", "background")
		req.Header.Set("apns-priority", "5")
	}
	if payload.CallID != "" {
		req.Header.Set("apns-collapse-id", payload.CallID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("apns: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		apnsID := resp.Header.Get("apns-id")
		a.logger.Debug("apns notification sent", "apns_id", apnsID, "type", payload.Type, "call_id", payload.CallID)
		return nil
	}

	// Read the error response body.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	var apnsErr apnsErrorResponse
	if err := json.Unmarshal(respBody, &apnsErr); err == nil && apnsErr.Reason != "" {
		switch apnsErr.Reason {
		case "Unregistered", "BadDeviceToken", "DeviceTokenNotForTopic":
			return fmt.Errorf("apns: %w: %s (status %d)", ErrTokenInvalid, apnsErr.Reason, resp.StatusCode)
		case "ExpiredProviderToken", "InvalidProviderToken":
			a.resetProviderToken()
		}
		return fmt.Errorf("apns: %s (status %d)", apnsErr.Reason, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusGone {
		return fmt.Errorf("apns: %w (status %d)", ErrTokenInvalid, resp.StatusCode)
	}

	return fmt.Errorf("apns: unexpected status %d: %s", resp.StatusCode, string(respBody))
}

// getProviderToken returns a cached JWT provider token, refreshing it
// when nearing expiry.
func (a *APNsSender) getProviderToken() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cachedToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.cachedToken, nil
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:   a.teamID,
		IssuedAt: jwt.NewNumericDate(now),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = a.keyID

	signed, err := tok.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}

	a.cachedToken = signed
	a.tokenExpiry = now.Add(apnsTokenRefreshInterval)

	return signed, nil
}

// resetProviderToken forces the next send to sign a fresh provider token.
func (a *APNsSender) resetProviderToken() {
	a.mu.Lock()
	a.cachedToken = ""
	a.mu.Unlock()
}

// apnsErrorResponse represents the JSON error body returned by APNs.
type apnsErrorResponse struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type apnsAps struct {
	ContentAvailable int `json:"content-available,omitempty"`
}

// apnsPayload is the JSON body sent to APNs. Call fields sit beside "aps" so
// PushKit and background handlers read them the same way.
type apnsPayload struct {
	Aps          apnsAps `json:"aps"`
	Type         string  `json:"type"`
	CallID       string  `json:"call_id"`
	SIPCallID    string  `json:"sip_call_id,omitempty"`
	CallerName   string  `json:"caller_name,omitempty"`
	CallerNumber string  `json:"caller_number,omitempty"`
	Video        bool    `json:"video,omitempty"`
	RingTimeout  string  `json:"ring_timeout,omitempty"`
	Timestamp    string  `json:"timestamp,omitempty"`
}

// buildAPNsPayload creates the JSON body for an APNs push notification.
func buildAPNsPayload(p Payload) ([]byte, error) {
	payload := apnsPayload{
		Type:         p.Type,
		CallID:       p.CallID,
		SIPCallID:    p.SIPCallID,
		CallerName:   p.CallerName,
		CallerNumber: p.CallerNumber,
		Video:        p.Video,
		RingTimeout:  p.RingTimeout,
		Timestamp:    p.Timestamp,
	}
	if p.Type != TypeIncomingCall {
		payload.Aps.ContentAvailable = 1
	}
	return json.Marshal(payload)
}

// parseP8PrivateKey parses an Apple .p8 private key file (PKCS#8 PEM-encoded
// ECDSA P-256 key) and returns the *ecdsa.PrivateKey.
func parseP8PrivateKey(pemData []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 key: %w", err)
	}

	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not ECDSA")
	}

	return ecKey, nil
}
