package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/flowpbx/dialmobile/internal/event"
)

// userVariable is the channel variable the dialplan sets to the owning user.
const userVariable = "ACCENT_USERUUID"

// ariChannel is the subset of the ARI Channel model the resolver reads.
type ariChannel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// ariVariable is the response of GET /channels/{id}/variable.
type ariVariable struct {
	Value string `json:"value"`
}

// ariError is the error body ARI returns alongside 4xx/5xx statuses.
type ariError struct {
	Message string `json:"message"`
}

// ARIClient resolves channels through the Asterisk REST Interface.
type ARIClient struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewARIClient creates an ARI-backed resolver. baseURL is the ARI root
// (e.g., "http://localhost:5039/ari"). Every Resolve call is bounded by
// timeout regardless of the caller's context.
func NewARIClient(baseURL, username, password string, timeout time.Duration, logger *slog.Logger) *ARIClient {
	return &ARIClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		username:   username,
		password:   password,
		timeout:    timeout,
		logger:     logger.With("subsystem", "ari-resolver"),
	}
}

// Resolve looks up the channel and the user it belongs to.
func (c *ARIClient) Resolve(ctx context.Context, channelID string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var ch ariChannel
	err := c.get(ctx, "/channels/"+url.PathEscape(channelID), nil, &ch)
	if errors.Is(err, ErrNotFound) {
		return Result{Status: NotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}

	var user ariVariable
	query := url.Values{"variable": {userVariable}}
	err = c.get(ctx, "/channels/"+url.PathEscape(channelID)+"/variable", query, &user)
	switch {
	case errors.Is(err, ErrNotFound):
		// ARI answers 404 both for a vanished channel and an unset variable.
		if chErr := c.channelExists(ctx, channelID); errors.Is(chErr, ErrNotFound) {
			return Result{Status: NotFound}, nil
		}
	case err != nil:
		return Result{}, err
	}

	tech, endpoint, _ := event.ParseChannelName(ch.Name)

	c.logger.Debug("channel resolved",
		"channel_id", channelID,
		"name", ch.Name,
		"user_uuid", user.Value,
	)

	return Result{
		Status: Found,
		Channel: Channel{
			ID:         ch.ID,
			Name:       ch.Name,
			Technology: tech,
			Endpoint:   endpoint,
			User:       user.Value,
		},
	}, nil
}

// SetMobileHint sets the custom device state backing the user's mobile hint:
// NOT_INUSE while reachable, UNAVAILABLE otherwise.
func (c *ARIClient) SetMobileHint(ctx context.Context, user string, reachable bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	state := "UNAVAILABLE"
	if reachable {
		state = "NOT_INUSE"
	}
	query := url.Values{
		"variable": {"DEVICE_STATE(Custom:" + user + "-mobile)"},
		"value":    {state},
	}
	if err := c.do(ctx, http.MethodPost, "/asterisk/variable", query, nil); err != nil {
		return fmt.Errorf("resolver: setting mobile hint for %s: %w", user, err)
	}

	c.logger.Debug("mobile hint updated", "user_uuid", user, "state", state)
	return nil
}

func (c *ARIClient) channelExists(ctx context.Context, channelID string) error {
	var ch ariChannel
	return c.get(ctx, "/channels/"+url.PathEscape(channelID), nil, &ch)
}

// get performs an authenticated GET and decodes the JSON body into dst.
// A 404 is reported as ErrNotFound.
func (c *ARIClient) get(ctx context.Context, path string, query url.Values, dst any) error {
	return c.do(ctx, http.MethodGet, path, query, dst)
}

// do performs an authenticated request. A nil dst discards the body; ARI
// answers 204 to most writes.
func (c *ARIClient) do(ctx context.Context, method, path string, query url.Values, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("resolver: creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resolver: sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("resolver: reading response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ariErr ariError
		if json.Unmarshal(body, &ariErr) == nil && ariErr.Message != "" {
			return fmt.Errorf("resolver: ari error (status %d): %s", resp.StatusCode, ariErr.Message)
		}
		return fmt.Errorf("resolver: ari returned status %d", resp.StatusCode)
	}

	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("resolver: decoding response: %w", err)
	}
	return nil
}
