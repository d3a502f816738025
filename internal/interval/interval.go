package interval

import "time"

// Align floors t to the most recent boundary of the given interval length,
// computed on epoch milliseconds: floor(ms / intervalMs) * intervalMs.
// The result is always <= t, always UTC, and always an exact multiple of
// the interval.
func Align(t time.Time, intervalMinutes int) time.Time {
	step := int64(intervalMinutes) * 60_000
	ms := t.UnixMilli()
	return time.UnixMilli(ms / step * step).UTC()
}

// Next returns the first boundary strictly after t.
func Next(t time.Time, intervalMinutes int) time.Time {
	return Align(t, intervalMinutes).Add(time.Duration(intervalMinutes) * time.Minute)
}

// IsAligned reports whether t sits exactly on an interval boundary.
func IsAligned(t time.Time, intervalMinutes int) bool {
	return Align(t, intervalMinutes).Equal(t.UTC())
}
