package dialmobile

import (
	"context"
	"testing"

	"github.com/flowpbx/dialmobile/internal/event"
)

func newTestRouter(d *fakeDispatcher, r *fakeResolver) (*Router, *Service) {
	svc := newTestService(d, r)
	return NewRouter(svc, event.DefaultFilter(), discardLogger()), svc
}

func pushmobileEvent(linkedID, user string) map[string]any {
	return map[string]any{
		"UserEvent":            "Pushmobile",
		"Uniqueid":             linkedID,
		"Linkedid":             linkedID,
		"CallerIDName":         "Alice",
		"CallerIDNum":          "1001",
		"ACCENT_DST_UUID":      user,
		"ACCENT_VIDEO_ENABLED": "0",
		"ACCENT_RING_TIME":     "30",
		"ACCENT_TIMESTAMP":     "2024-08-06T23:59:59+00:00",
		"ChanVariable": map[string]any{
			"ACCENT_TENANT_UUID": "tenant-1",
			"ACCENT_SIP_CALL_ID": "sip-" + linkedID,
		},
	}
}

func TestRouter_SessionEvents(t *testing.T) {
	router, svc := newTestRouter(&fakeDispatcher{}, &fakeResolver{})
	ctx := context.Background()

	router.Handle(ctx, event.NameSessionCreated, map[string]any{"user_uuid": "U", "mobile": true})
	if !svc.IsRegistered("U") {
		t.Fatal("expected U registered after mobile session created")
	}

	router.Handle(ctx, event.NameSessionCreated, map[string]any{"user_uuid": "W", "mobile": false})
	if svc.IsRegistered("W") {
		t.Error("non-mobile session must not register")
	}

	router.Handle(ctx, event.NameSessionDeleted, map[string]any{"user_uuid": "U", "mobile": true})
	if svc.IsRegistered("U") {
		t.Error("expected U unregistered after mobile session deleted")
	}
}

func TestRouter_PushThenAnswer(t *testing.T) {
	d := &fakeDispatcher{}
	router, svc := newTestRouter(d, &fakeResolver{result: foundChannel("U")})
	ctx := context.Background()

	router.Handle(ctx, event.NameSessionCreated, map[string]any{"user_uuid": "U", "mobile": true})
	router.Handle(ctx, event.NameUserEvent, pushmobileEvent("L1", "U"))

	if len(d.notified) != 1 {
		t.Fatalf("expected one notify, got %d", len(d.notified))
	}
	n := d.notified[0]
	if n.LinkedID != "L1" || n.User != "U" || n.Tenant != "tenant-1" || n.ExternalCallID != "sip-L1" {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.CallerName != "Alice" || n.CallerNum != "1001" || n.RingTimeout != "30" {
		t.Errorf("unexpected caller fields: %+v", n)
	}

	router.Handle(ctx, event.NameBridgeEnter, map[string]any{
		"BridgeUniqueid": "accent-dial-mobile-L1",
		"Channel":        "PJSIP/mobile-00000002",
		"Uniqueid":       "chan-2",
		"Linkedid":       "L1",
	})

	if len(d.cancelled) != 0 {
		t.Errorf("expected no cancel, got %d", len(d.cancelled))
	}
	if svc.HasPendingPush("L1") {
		t.Error("expected pending push to be resolved")
	}
}

func TestRouter_PushThenNoAnswer(t *testing.T) {
	d := &fakeDispatcher{}
	router, svc := newTestRouter(d, &fakeResolver{})
	ctx := context.Background()

	router.Handle(ctx, event.NameUserEvent, pushmobileEvent("L2", "U"))
	router.Handle(ctx, event.NameDialEnd, map[string]any{
		"DestContext": "accent_wait_for_registration",
		"DialStatus":  "NOANSWER",
		"Uniqueid":    "L2",
		"Linkedid":    "L2",
	})

	if len(d.cancelled) != 1 {
		t.Fatalf("expected one cancel, got %d", len(d.cancelled))
	}
	if svc.HasPendingPush("L2") {
		t.Error("expected pending push to be resolved")
	}
}

// An unrelated bridge must not touch the pending push.
func TestRouter_IrrelevantBridgeIgnored(t *testing.T) {
	d := &fakeDispatcher{}
	r := &fakeResolver{result: foundChannel("U")}
	router, svc := newTestRouter(d, r)
	ctx := context.Background()

	router.Handle(ctx, event.NameUserEvent, pushmobileEvent("L1", "U"))
	router.Handle(ctx, event.NameBridgeEnter, map[string]any{
		"BridgeUniqueid": "some-conference",
		"Channel":        "PJSIP/desk-00000003",
		"Uniqueid":       "chan-3",
		"Linkedid":       "L1",
	})

	if r.callCount() != 0 {
		t.Errorf("expected no channel lookup, got %d", r.callCount())
	}
	if len(d.cancelled) != 0 {
		t.Errorf("expected no cancel, got %d", len(d.cancelled))
	}
	if !svc.HasPendingPush("L1") {
		t.Error("expected pending push to remain")
	}
}

func TestRouter_UnknownEventIgnored(t *testing.T) {
	d := &fakeDispatcher{}
	router, svc := newTestRouter(d, &fakeResolver{})

	router.Handle(context.Background(), "Hangup", map[string]any{"Uniqueid": "x"})

	if svc.PendingCount() != 0 || svc.RegisteredUsers() != 0 {
		t.Error("unknown event must not change state")
	}
	if notified, cancelled := d.counts(); notified != 0 || cancelled != 0 {
		t.Errorf("expected no dispatcher calls, got %d/%d", notified, cancelled)
	}
}
