// Package system provides a real clock implementation.
package system

import "time"

// Clock implements ingest.Clock using time.Now. Times are truncated to
// microseconds so a checkpoint round-trips through every store unchanged.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at microsecond precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
