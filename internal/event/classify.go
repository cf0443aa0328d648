package event

import (
	"strings"
	"time"
)

// Bus event names the classifier recognises.
const (
	NameSessionCreated = "auth_refresh_token_created"
	NameSessionDeleted = "auth_refresh_token_deleted"
	NameUserEvent      = "UserEvent"
	NameBridgeEnter    = "BridgeEnter"
	NameDialEnd        = "DialEnd"
)

// userEventPushMobile is the UserEvent subtype raised by the dialplan when a
// mobile push is required.
const userEventPushMobile = "Pushmobile"

// Filter holds the orchestrator-owned names used to tell its own bridges and
// dial legs apart from unrelated signaling traffic.
type Filter struct {
	// BridgePrefix prefixes the id of every bridge the orchestrator creates.
	BridgePrefix string
	// WaitContext is the dial context of legs waiting for a mobile to register.
	WaitContext string
	// Technologies lists the channel technologies mobile apps connect with.
	Technologies []string
}

// DefaultFilter returns the names used by the stock dialplan.
func DefaultFilter() Filter {
	return Filter{
		BridgePrefix: "accent-dial-mobile-",
		WaitContext:  "accent_wait_for_registration",
		Technologies: []string{"PJSIP"},
	}
}

// Relevant reports whether events called name can ever classify as relevant.
// It lets transports drop unrelated traffic before decoding the payload.
func Relevant(name string) bool {
	switch name {
	case NameSessionCreated, NameSessionDeleted, NameUserEvent, NameBridgeEnter, NameDialEnd:
		return true
	}
	return false
}

// Classify maps a raw bus event onto one of the relevant events. The second
// return value is false when the event must be ignored. Classify never fails
// and has no side effects.
func Classify(name string, data map[string]any, f Filter) (Event, bool) {
	switch name {
	case NameSessionCreated, NameSessionDeleted:
		return classifySession(name, data)
	case NameUserEvent:
		return classifyUserEvent(data)
	case NameBridgeEnter:
		return classifyBridgeEnter(data, f)
	case NameDialEnd:
		return classifyDialEnd(data, f)
	default:
		return nil, false
	}
}

func classifySession(name string, data map[string]any) (Event, bool) {
	if !boolField(data, "mobile") {
		return nil, false
	}
	user := stringField(data, "user_uuid")
	if user == "" {
		return nil, false
	}
	if name == NameSessionCreated {
		return SessionCreated{User: user, Class: ClassMobile}, true
	}
	return SessionDeleted{User: user, Class: ClassMobile}, true
}

func classifyUserEvent(data map[string]any) (Event, bool) {
	if stringField(data, "UserEvent") != userEventPushMobile {
		return nil, false
	}
	linkedID := stringField(data, "Linkedid")
	if linkedID == "" {
		return nil, false
	}

	ev := RingRequiresPush{
		LinkedID:       linkedID,
		UniqueID:       stringField(data, "Uniqueid"),
		User:           stringField(data, "ACCENT_DST_UUID"),
		Tenant:         chanVar(data, "ACCENT_TENANT_UUID"),
		CallerName:     stringField(data, "CallerIDName"),
		CallerNum:      stringField(data, "CallerIDNum"),
		Video:          stringField(data, "ACCENT_VIDEO_ENABLED") == "1",
		RingTimeout:    stringField(data, "ACCENT_RING_TIME"),
		ExternalCallID: chanVar(data, "ACCENT_SIP_CALL_ID"),
	}
	if ts := stringField(data, "ACCENT_TIMESTAMP"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = t
		}
	}
	return ev, true
}

func classifyBridgeEnter(data map[string]any, f Filter) (Event, bool) {
	bridgeID := stringField(data, "BridgeUniqueid")
	if f.BridgePrefix == "" || !strings.HasPrefix(bridgeID, f.BridgePrefix) {
		return nil, false
	}

	channel := stringField(data, "Channel")
	tech, endpoint, ok := ParseChannelName(channel)
	if !ok || !hasTechnology(f.Technologies, tech) {
		return nil, false
	}

	uniqueID := stringField(data, "Uniqueid")
	return BridgeEntered{
		BridgeID:   bridgeID,
		ChannelID:  uniqueID,
		Channel:    channel,
		Technology: tech,
		Endpoint:   endpoint,
		LinkedID:   stringField(data, "Linkedid"),
		UniqueID:   uniqueID,
		User:       chanVar(data, "ACCENT_USERUUID"),
	}, true
}

func classifyDialEnd(data map[string]any, f Filter) (Event, bool) {
	dialContext := stringField(data, "DestContext")
	if f.WaitContext == "" || dialContext != f.WaitContext {
		return nil, false
	}
	return DialEnded{
		Context:    dialContext,
		DialStatus: stringField(data, "DialStatus"),
		UniqueID:   stringField(data, "Uniqueid"),
		LinkedID:   stringField(data, "Linkedid"),
	}, true
}

// ParseChannelName splits a channel name such as "PJSIP/abc123-0000001b" into
// its technology ("PJSIP") and endpoint ("abc123").
func ParseChannelName(name string) (tech, endpoint string, ok bool) {
	tech, rest, found := strings.Cut(name, "/")
	if !found || tech == "" || rest == "" {
		return "", "", false
	}
	if i := strings.LastIndex(rest, "-"); i > 0 {
		rest = rest[:i]
	}
	return tech, rest, true
}

func hasTechnology(techs []string, tech string) bool {
	for _, t := range techs {
		if strings.EqualFold(t, tech) {
			return true
		}
	}
	return false
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	default:
		return ""
	}
}

func boolField(data map[string]any, key string) bool {
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

// chanVar reads a channel variable from the nested ChanVariable object AMI
// attaches to channel events.
func chanVar(data map[string]any, key string) string {
	vars, ok := data["ChanVariable"].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(vars, key)
}
