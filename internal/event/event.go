// Package event classifies raw signaling and session bus events into the
// small closed set of events the dial-mobile orchestrator acts on.
package event

import "time"

// Session class carried by authentication session events for mobile apps.
const ClassMobile = "mobile"

// Dial status reported by DialEnd when the called leg answered.
const DialStatusAnswer = "ANSWER"

// Event is one of SessionCreated, SessionDeleted, RingRequiresPush,
// BridgeEntered or DialEnded. The unexported marker keeps the set closed.
type Event interface {
	relevantEvent()
}

// SessionCreated reports that a user opened a new mobile session.
type SessionCreated struct {
	User  string
	Class string
}

// SessionDeleted reports that one of a user's mobile sessions ended.
type SessionDeleted struct {
	User  string
	Class string
}

// RingRequiresPush is emitted by the dialplan when a user's mobile app must
// be woken up to ring.
type RingRequiresPush struct {
	LinkedID       string
	UniqueID       string
	User           string
	Tenant         string
	CallerName     string
	CallerNum      string
	Video          bool
	RingTimeout    string
	ExternalCallID string
	Timestamp      time.Time
}

// BridgeEntered reports a channel joining one of the orchestrator's bridges.
type BridgeEntered struct {
	BridgeID   string
	ChannelID  string
	Channel    string
	Technology string
	Endpoint   string
	LinkedID   string
	UniqueID   string
	User       string
}

// DialEnded reports the outcome of a dial into the wait-for-registration
// context.
type DialEnded struct {
	Context    string
	DialStatus string
	UniqueID   string
	LinkedID   string
}

func (SessionCreated) relevantEvent()   {}
func (SessionDeleted) relevantEvent()   {}
func (RingRequiresPush) relevantEvent() {}
func (BridgeEntered) relevantEvent()    {}
func (DialEnded) relevantEvent()        {}

// Answered reports whether the dial ended because the leg was answered.
func (e DialEnded) Answered() bool {
	return e.DialStatus == DialStatusAnswer
}

// CallID returns the identifier shared by every leg of the call. DialEnd is
// raised on the caller's leg, whose uniqueid doubles as the linkedid.
func (e DialEnded) CallID() string {
	if e.LinkedID != "" {
		return e.LinkedID
	}
	return e.UniqueID
}
