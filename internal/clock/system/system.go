// Package system implements the Clock interface with the system clock.
package system

import "time"

// Clock returns the current system time in UTC.
type Clock struct{}

// New returns a system Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
