package pushgw

import (
	"errors"
	"time"
)

// ErrTokenInvalid is wrapped by senders when the platform reports that a
// device token is no longer registered. The gateway answers 410 Gone so the
// caller can forget the token.
var ErrTokenInvalid = errors.New("device token no longer valid")

// Payload types delivered to the mobile app.
const (
	TypeIncomingCall = "incoming_call"
	TypeCancelCall   = "cancel_call"
)

// Push log kinds.
const (
	KindPush   = "push"
	KindCancel = "cancel"
)

// License represents a license key record.
type License struct {
	ID        int64
	Key       string
	Tier      string // "free", "standard", "professional"
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// PushLogEntry represents a single delivery attempt log record.
type PushLogEntry struct {
	LicenseKey string
	Kind       string // "push" or "cancel"
	Platform   string
	CallID     string
	Success    bool
	Error      string
	Timestamp  time.Time
}

// Payload is the data sent inside a push notification. Cancel pushes carry
// only Type, CallID and SIPCallID.
type Payload struct {
	Type         string
	CallID       string
	SIPCallID    string
	CallerName   string
	CallerNumber string
	Video        bool
	RingTimeout  string
	Timestamp    string
}

// Data flattens the payload into string key/values, the form FCM data
// messages require. Empty fields are omitted.
func (p Payload) Data() map[string]string {
	d := map[string]string{
		"type":    p.Type,
		"call_id": p.CallID,
	}
	set := func(k, v string) {
		if v != "" {
			d[k] = v
		}
	}
	set("sip_call_id", p.SIPCallID)
	if p.Type == TypeIncomingCall {
		set("caller_name", p.CallerName)
		set("caller_number", p.CallerNumber)
		set("ring_timeout", p.RingTimeout)
		set("timestamp", p.Timestamp)
		if p.Video {
			d["video"] = "true"
		} else {
			d["video"] = "false"
		}
	}
	return d
}

// PushRequest is the JSON body for POST /v1/push.
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

// CancelRequest is the JSON body for POST /v1/push/cancel.
type CancelRequest struct {
	LicenseKey   string `json:"license_key"`
	PushToken    string `json:"push_token"`
	PushPlatform string `json:"push_platform"`
	CallID       string `json:"call_id"`
	SIPCallID    string `json:"sip_call_id,omitempty"`
}

// PushResponse is the JSON response for POST /v1/push and /v1/push/cancel.
type PushResponse struct {
	Delivered bool   `json:"delivered"`
	CallID    string `json:"call_id"`
}
