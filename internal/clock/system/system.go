// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/roundup-crawler/internal/roundup"
)

// Clock implements roundup.Clock using time.Now.
type Clock struct{}

var _ roundup.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, the zone persisted in error records.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
