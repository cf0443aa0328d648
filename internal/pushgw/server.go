package pushgw

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/flowpbx/dialmobile/internal/api/middleware"
)

// LicenseStore abstracts database operations for license management.
type LicenseStore interface {
	// ValidateLicense checks a license key and returns the license if valid,
	// or nil if it is unknown or expired.
	ValidateLicense(ctx context.Context, key string) (*License, error)
}

// PushSender delivers push notifications via FCM or APNs.
type PushSender interface {
	// Send delivers a push notification to the specified token.
	// platform is "fcm" or "apns".
	Send(ctx context.Context, platform, token string, payload Payload) error
}

// PushLogger records push delivery attempts for audit and debugging.
type PushLogger interface {
	// Log records the result of a push delivery attempt.
	Log(ctx context.Context, entry PushLogEntry) error
}

// Options holds the push gateway's dependencies. PushLog and Limiter may be
// nil.
type Options struct {
	Store   LicenseStore
	Sender  PushSender
	PushLog PushLogger
	Limiter *middleware.KeyedRateLimiter
	Logger  *slog.Logger
}

// Server holds the push gateway HTTP handler dependencies.
type Server struct {
	router  *chi.Mux
	store   LicenseStore
	sender  PushSender
	pushLog PushLogger
	limiter *middleware.KeyedRateLimiter
	logger  *slog.Logger
}

// NewServer creates a push gateway HTTP server with all routes mounted.
// If opts.Limiter is non-nil, rate limiting is applied per license key to
// the push endpoints.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:  chi.NewRouter(),
		store:   opts.Store,
		sender:  opts.Sender,
		pushLog: opts.PushLog,
		limiter: opts.Limiter,
		logger:  logger.With("subsystem", "pushgw"),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes mounts all push gateway API routes under /v1.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1/push", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(middleware.RateLimit(s.limiter, middleware.ByHeader("X-License-Key")))
		}
		r.Post("/", s.handlePush)
		r.Post("/cancel", s.handleCancel)
	})
}

// handlePush handles POST /v1/push: validate the license, then wake the
// device with an incoming_call payload.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if msg := validateTarget(req.LicenseKey, req.PushToken, req.PushPlatform, req.CallID); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	s.deliver(w, r, KindPush, req.LicenseKey, req.PushPlatform, req.PushToken, Payload{
		Type:         TypeIncomingCall,
		CallID:       req.CallID,
		SIPCallID:    req.SIPCallID,
		CallerName:   req.CallerName,
		CallerNumber: req.CallerNumber,
		Video:        req.Video,
		RingTimeout:  req.RingTimeout,
		Timestamp:    req.Timestamp,
	})
}

// handleCancel handles POST /v1/push/cancel: tell the device to stop ringing.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if msg := validateTarget(req.LicenseKey, req.PushToken, req.PushPlatform, req.CallID); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	s.deliver(w, r, KindCancel, req.LicenseKey, req.PushPlatform, req.PushToken, Payload{
		Type:      TypeCancelCall,
		CallID:    req.CallID,
		SIPCallID: req.SIPCallID,
	})
}

func validateTarget(licenseKey, token, platform, callID string) string {
	switch {
	case licenseKey == "":
		return "license_key is required"
	case token == "":
		return "push_token is required"
	case platform != "fcm" && platform != "apns":
		return "push_platform must be fcm or apns"
	case callID == "":
		return "call_id is required"
	}
	return ""
}

// deliver validates the license, sends the payload and logs the attempt.
func (s *Server) deliver(w http.ResponseWriter, r *http.Request, kind, licenseKey, platform, token string, payload Payload) {
	if s.store == nil || s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "push service not configured")
		return
	}
	ctx := r.Context()

	license, err := s.store.ValidateLicense(ctx, licenseKey)
	if err != nil {
		s.logger.Error("license validation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if license == nil {
		writeError(w, http.StatusForbidden, "invalid or expired license key")
		return
	}

	sendErr := s.sender.Send(ctx, platform, token, payload)

	if s.pushLog != nil {
		entry := PushLogEntry{
			LicenseKey: licenseKey,
			Kind:       kind,
			Platform:   platform,
			CallID:     payload.CallID,
			Success:    sendErr == nil,
			Timestamp:  time.Now(),
		}
		if sendErr != nil {
			entry.Error = sendErr.Error()
		}
		if logErr := s.pushLog.Log(ctx, entry); logErr != nil {
			s.logger.Error("failed to write push log", "error", logErr)
		}
	}

	if sendErr != nil {
		if errors.Is(sendErr, ErrTokenInvalid) {
			s.logger.Info("device token rejected by platform", "kind", kind, "platform", platform, "call_id", payload.CallID)
			writeError(w, http.StatusGone, "push token no longer valid")
			return
		}
		s.logger.Error("delivery failed", "error", sendErr, "kind", kind, "platform", platform, "call_id", payload.CallID)
		writeError(w, http.StatusBadGateway, "push delivery failed")
		return
	}

	s.logger.Info("notification sent",
		"kind", kind,
		"platform", platform,
		"call_id", payload.CallID,
		"license_key_prefix", truncateKey(licenseKey),
	)

	writeJSON(w, http.StatusOK, PushResponse{
		Delivered: true,
		CallID:    payload.CallID,
	})
}

// truncateKey returns the first 8 characters of a license key for safe logging.
func truncateKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}

// envelope is the standard response wrapper for the push gateway API.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code and data payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// maxRequestBodySize is the upper limit for JSON request bodies (64 KB).
const maxRequestBodySize = 64 << 10

// readJSON decodes a JSON request body into dst with size limiting.
// Returns a user-friendly error string on failure, or "" on success.
func readJSON(r *http.Request, dst any) string {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return "invalid request body"
	}

	if dec.More() {
		return "request body must contain a single json object"
	}

	return ""
}
