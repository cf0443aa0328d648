// Package resolver maps a signaling channel to the user and endpoint behind
// it by querying the telephony controller's REST interface (ARI).
package resolver

import (
	"context"
	"errors"
)

// ErrNotFound is returned by the ARI transport when the channel does not
// exist. Resolve folds it into a NotFound result.
var ErrNotFound = errors.New("resolver: channel not found")

// Status tells whether a channel could be resolved.
type Status int

const (
	// Found means the channel exists and Channel is populated.
	Found Status = iota
	// NotFound means the channel was torn down before it could be looked up.
	NotFound
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Channel describes a live signaling channel.
type Channel struct {
	ID         string
	Name       string
	Technology string
	Endpoint   string
	User       string
}

// Result is the outcome of a lookup. Channel is only meaningful when Status
// is Found.
type Result struct {
	Status  Status
	Channel Channel
}

// Resolver looks up a channel by id. Transport failures are returned as
// errors; a channel that no longer exists is not an error.
type Resolver interface {
	Resolve(ctx context.Context, channelID string) (Result, error)
}
