package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowpbx/dialmobile/internal/api/middleware"
	"github.com/flowpbx/dialmobile/internal/database/models"
)

// healthResponse is the JSON response for GET /healthz.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth runs every dependency check and answers 503 if any fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(s.opts.Checks) > 0 {
		resp.Checks = make(map[string]string, len(s.opts.Checks))
	}
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// pendingPushResponse is one entry of GET /api/v1/pending-pushes.
type pendingPushResponse struct {
	LinkedID   string    `json:"linkedid"`
	CallID     string    `json:"call_id"`
	UserUUID   string    `json:"user_uuid"`
	TenantUUID string    `json:"tenant_uuid,omitempty"`
	SIPCallID  string    `json:"sip_call_id,omitempty"`
	Video      bool      `json:"video"`
	PushedAt   time.Time `json:"pushed_at"`
	AgeSeconds float64   `json:"age_seconds"`
}

// handleListPendingPushes lists unresolved pushes, oldest first.
func (s *Server) handleListPendingPushes(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	pending := s.opts.Orchestrator.PendingPushes()

	items := make([]pendingPushResponse, 0, len(pending))
	for _, p := range pending {
		n := p.Notification
		items = append(items, pendingPushResponse{
			LinkedID:   n.LinkedID,
			CallID:     n.CallID(),
			UserUUID:   n.User,
			TenantUUID: n.Tenant,
			SIPCallID:  n.ExternalCallID,
			Video:      n.Video,
			PushedAt:   p.PushedAt.UTC(),
			AgeSeconds: now.Sub(p.PushedAt).Seconds(),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].PushedAt.Before(items[j].PushedAt) })

	writeJSON(w, http.StatusOK, items)
}

// mobileSessionResponse is the JSON response for GET /api/v1/mobile-sessions/{user}.
type mobileSessionResponse struct {
	UserUUID   string `json:"user_uuid"`
	Registered bool   `json:"registered"`
}

func (s *Server) handleGetMobileSession(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if msg := validateUUID("user", user); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	writeJSON(w, http.StatusOK, mobileSessionResponse{
		UserUUID:   user,
		Registered: s.opts.Orchestrator.IsRegistered(user),
	})
}

// pushTokenRequest is the JSON request body for PUT /api/v1/mobile/push-token.
type pushTokenRequest struct {
	Token      string `json:"token"`
	Platform   string `json:"platform"`
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version"`
}

func (req *pushTokenRequest) validate() string {
	if msg := validateRequiredStringLen("token", req.Token, maxTokenLen); msg != "" {
		return msg
	}
	if containsControlChars(req.Token) {
		return "token contains invalid characters"
	}
	if req.Platform != models.PlatformFCM && req.Platform != models.PlatformAPNs {
		return "platform must be fcm or apns"
	}
	if msg := validateDeviceID("device_id", req.DeviceID); msg != "" {
		return msg
	}
	if msg := validateStringLen("app_version", req.AppVersion, maxShortStringLen); msg != "" {
		return msg
	}
	if containsControlChars(req.AppVersion) {
		return "app_version contains invalid characters"
	}
	return ""
}

// pushTokenResponse is the JSON response for PUT /api/v1/mobile/push-token.
type pushTokenResponse struct {
	ID         int64  `json:"id"`
	UserUUID   string `json:"user_uuid"`
	Platform   string `json:"platform"`
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version,omitempty"`
}

// handlePutPushToken registers or refreshes the calling device's push token.
func (s *Server) handlePutPushToken(w http.ResponseWriter, r *http.Request) {
	user := middleware.MobileUserFromContext(r.Context())
	if user == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req pushTokenRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	token := &models.PushToken{
		UserUUID:   user,
		TenantUUID: middleware.MobileTenantFromContext(r.Context()),
		Token:      req.Token,
		Platform:   req.Platform,
		DeviceID:   req.DeviceID,
		AppVersion: req.AppVersion,
	}
	if err := s.opts.Tokens.Upsert(r.Context(), token); err != nil {
		s.logger.Error("failed to store push token", "user_uuid", user, "device_id", req.DeviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("push token registered",
		"user_uuid", user,
		"device_id", req.DeviceID,
		"platform", req.Platform,
	)
	writeJSON(w, http.StatusOK, pushTokenResponse{
		ID:         token.ID,
		UserUUID:   user,
		Platform:   token.Platform,
		DeviceID:   token.DeviceID,
		AppVersion: token.AppVersion,
	})
}

// handleDeletePushToken unregisters one of the caller's devices.
func (s *Server) handleDeletePushToken(w http.ResponseWriter, r *http.Request) {
	user := middleware.MobileUserFromContext(r.Context())
	if user == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	deviceID := chi.URLParam(r, "device_id")
	if msg := validateDeviceID("device_id", deviceID); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	deleted, err := s.opts.Tokens.DeleteByUserAndDevice(r.Context(), user, deviceID)
	if err != nil {
		s.logger.Error("failed to delete push token", "user_uuid", user, "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "device not registered")
		return
	}

	s.logger.Info("push token removed", "user_uuid", user, "device_id", deviceID)
	w.WriteHeader(http.StatusNoContent)
}
