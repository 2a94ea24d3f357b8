package session

import (
	"context"
	"errors"
	"time"

	"github.com/cepro/metersim/telemetry"
)

// ErrSubscriberGone is returned by a Channel when the subscriber can no longer be reached.
var ErrSubscriberGone = errors.New("subscriber gone")

// Gateway stores meter readings. It is shared by all sessions.
type Gateway interface {
	// FetchLastReading returns the most recently stored reading for the meter. The boolean is false if there is none,
	// which is not an error.
	FetchLastReading(ctx context.Context, meterID string) (float64, bool, error)

	// AppendReading records one reading. Duplicate timestamps for a meter are allowed.
	AppendReading(ctx context.Context, meterID string, reading float64, t time.Time) error
}

// Channel delivers reading events to connected subscribers.
type Channel interface {
	// Push delivers the event without blocking. It returns ErrSubscriberGone if the subscriber has disconnected.
	Push(subscriberID string, event telemetry.ReadingEvent) error

	// OnDisconnect registers a function to be called once when the subscriber disconnects. If the subscriber is
	// already gone the function is called straight away.
	OnDisconnect(subscriberID string, fn func())
}
