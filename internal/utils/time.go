package utils

import (
	"time"
)

const (
	layoutDate     = "2006-01-02"
	layoutDateTime = "2006-01-02 15:04:05"
)

// NowUTC returns current time in UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// FormatDate formats time to YYYY-MM-DD in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(layoutDate)
}

// FormatDateTime formats time to "YYYY-MM-DD HH:MM:SS UTC".
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(layoutDateTime) + " UTC"
}

// OnOrBefore reports whether done happened no later than deadline. A
// missing deadline counts as met.
func OnOrBefore(done time.Time, deadline *time.Time) bool {
	if deadline == nil || deadline.IsZero() {
		return true
	}
	return !done.After(*deadline)
}
