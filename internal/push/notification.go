package push

import "time"

// Notification carries everything a mobile app needs to present an incoming
// call, and enough to identify that call again when the push is cancelled.
type Notification struct {
	LinkedID       string
	UniqueID       string
	ExternalCallID string
	Tenant         string
	User           string
	CallerName     string
	CallerNum      string
	Video          bool
	RingTimeout    string
	Timestamp      time.Time
}

// CallID returns the identifier clients know the call by: the channel's
// unique id, or the linkedid when that is unknown.
func (n Notification) CallID() string {
	if n.UniqueID != "" {
		return n.UniqueID
	}
	return n.LinkedID
}
