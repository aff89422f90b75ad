// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Clock reports the current time in UTC so stored timestamps and archive
// paths never depend on the host zone.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

var _ crawler.Clock = Clock{}
