package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/flowpbx/dialmobile/internal/database/models"
)

// fakeTokenStore implements TokenStore for testing.
type fakeTokenStore struct {
	mu      sync.Mutex
	tokens  map[string][]models.PushToken
	deleted []string
	err     error
}

func (f *fakeTokenStore) ListByUser(ctx context.Context, userUUID string) ([]models.PushToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[userUUID], f.err
}

func (f *fakeTokenStore) DeleteByToken(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, token)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNotification() Notification {
	return Notification{
		LinkedID:       "1647612626.39",
		UniqueID:       "1647612626.39",
		ExternalCallID: "de9eb39fb7585796",
		Tenant:         "tenant-1",
		User:           "user-1",
		CallerName:     "Anastasia Romanov",
		CallerNum:      "1005",
		Video:          true,
		RingTimeout:    "42",
		Timestamp:      time.Date(2024, 8, 6, 23, 59, 59, 0, time.UTC),
	}
}

func oneDevice() *fakeTokenStore {
	return &fakeTokenStore{tokens: map[string][]models.PushToken{
		"user-1": {{UserUUID: "user-1", Token: "device-token", Platform: "fcm", DeviceID: "pixel"}},
	}}
}

func writeDelivered(w http.ResponseWriter, callID string) {
	w.Header().Set("Content-Type", "application/json")
	data, _ := json.Marshal(PushResponse{Delivered: true, CallID: callID})
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func TestNotify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/push" {
			t.Errorf("expected path /v1/push, got %s", r.URL.Path)
		}
		if r.Header.Get("X-License-Key") != "test-license" {
			t.Errorf("expected X-License-Key %q, got %q", "test-license", r.Header.Get("X-License-Key"))
		}

		var req PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.PushToken != "device-token" || req.PushPlatform != "fcm" {
			t.Errorf("unexpected device %q/%q", req.PushToken, req.PushPlatform)
		}
		if req.CallID != "1647612626.39" {
			t.Errorf("expected call_id %q, got %q", "1647612626.39", req.CallID)
		}
		if req.SIPCallID != "de9eb39fb7585796" {
			t.Errorf("expected sip_call_id %q, got %q", "de9eb39fb7585796", req.SIPCallID)
		}
		if req.CallerName != "Anastasia Romanov" || req.CallerNumber != "1005" {
			t.Errorf("unexpected caller %q <%q>", req.CallerName, req.CallerNumber)
		}
		if !req.Video {
			t.Error("expected video=true")
		}
		if req.RingTimeout != "42" {
			t.Errorf("expected ring_timeout 42, got %q", req.RingTimeout)
		}
		if req.Timestamp != "2024-08-06T23:59:59Z" {
			t.Errorf("unexpected timestamp %q", req.Timestamp)
		}

		writeDelivered(w, req.CallID)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-license", oneDevice(), discardLogger())
	if err := client.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCancel_Success(t *testing.T) {
	var gotPath string
	var req CancelRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&req)
		writeDelivered(w, req.CallID)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "lic", oneDevice(), discardLogger())
	if err := client.Cancel(context.Background(), testNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v1/push/cancel" {
		t.Errorf("expected path /v1/push/cancel, got %s", gotPath)
	}
	if req.CallID != "1647612626.39" || req.PushToken != "device-token" {
		t.Errorf("unexpected cancel request %+v", req)
	}
}

func TestNotify_NoDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called without devices")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "lic", &fakeTokenStore{}, discardLogger())
	if err := client.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNotify_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid or expired license key"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad-license", oneDevice(), discardLogger())
	if err := client.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestNotify_InvalidTokenRemoved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	store := oneDevice()
	client := NewClient(srv.URL, "lic", store, discardLogger())
	err := client.Notify(context.Background(), testNotification())
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "device-token" {
		t.Errorf("expected invalid token to be deleted, got %v", store.deleted)
	}
}

func TestNotify_PartialDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.PushToken == "broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeDelivered(w, req.CallID)
	}))
	defer srv.Close()

	store := &fakeTokenStore{tokens: map[string][]models.PushToken{
		"user-1": {
			{Token: "broken", Platform: "fcm", DeviceID: "a"},
			{Token: "ok", Platform: "apns", DeviceID: "b"},
		},
	}}
	client := NewClient(srv.URL, "lic", store, discardLogger())
	if err := client.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("one reachable device must be enough, got %v", err)
	}
}

func TestNotify_NotConfigured(t *testing.T) {
	client := NewClient("", "", oneDevice(), discardLogger())
	if client.Configured() {
		t.Error("expected Configured() = false")
	}
	if err := client.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestNotify_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate slow gateway, sleep longer than context timeout.
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "lic", oneDevice(), discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := client.Notify(ctx, testNotification()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// recordingDispatcher records calls for Fanout tests.
type recordingDispatcher struct {
	notified  int
	cancelled int
	err       error
}

func (r *recordingDispatcher) Notify(ctx context.Context, n Notification) error {
	r.notified++
	return r.err
}

func (r *recordingDispatcher) Cancel(ctx context.Context, n Notification) error {
	r.cancelled++
	return r.err
}

func TestFanout(t *testing.T) {
	failing := &recordingDispatcher{err: errors.New("boom")}
	ok := &recordingDispatcher{}
	f := Fanout{failing, ok}

	if err := f.Notify(context.Background(), testNotification()); err == nil {
		t.Error("expected joined error from failing dispatcher")
	}
	if err := f.Cancel(context.Background(), testNotification()); err == nil {
		t.Error("expected joined error from failing dispatcher")
	}
	if ok.notified != 1 || ok.cancelled != 1 {
		t.Errorf("healthy dispatcher must still be called, got %d/%d", ok.notified, ok.cancelled)
	}
	if err := (Fanout{ok}).Notify(context.Background(), testNotification()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
