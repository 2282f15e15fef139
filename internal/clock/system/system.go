// Package system provides the wall clock.
package system

import (
	"time"

	"github.com/JakeFAU/clip-harvester/internal/clip"
)

// Clock implements clip.Clock using time.Now.
type Clock struct{}

var _ clip.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
