package model

import (
	"fmt"
	"time"
)

// VersionLayout renders versions as RFC 3339 UTC with millisecond precision.
const VersionLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultSince is the lower bound used by list when the caller gives none.
var DefaultSince = time.Date(2016, time.August, 1, 18, 51, 0, 765_000_000, time.UTC)

// FormatVersion renders a stored write timestamp as an opaque version token.
func FormatVersion(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(VersionLayout)
}

// ParseVersion parses a version token (any RFC 3339 timestamp) back to a time,
// truncated to the store's millisecond precision.
func ParseVersion(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

// NextVersion returns the version for a write at now following prev:
// max(now, prev+1ms), both at millisecond precision.
func NextVersion(now, prev time.Time) time.Time {
	n := now.UTC().Truncate(time.Millisecond)
	if !prev.IsZero() {
		floor := prev.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
		if n.Before(floor) {
			return floor
		}
	}
	return n
}
