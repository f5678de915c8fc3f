package observations

import (
	"math"
	"time"
)

// NormalizeTimestamp snaps a reading's timestamp onto the grid defined by
// its sampling resolution (in minutes). Seconds and sub-second precision
// are truncated, then the minute is rounded to the nearest multiple of the
// resolution. Rounding is half-up: minute 53 at resolution 15 rounds to 60
// and carries into the next hour, 23:53 carries into the next day.
// Normalization is idempotent.
func NormalizeTimestamp(when time.Time, resolution int) time.Time {
	truncated := when.Truncate(time.Minute)
	minute := truncated.Minute()
	target := int(math.Round(float64(minute)/float64(resolution))) * resolution

	return truncated.Add(time.Duration(target-minute) * time.Minute)
}

// dayOf truncates a timestamp to its calendar day in UTC.
func dayOf(when time.Time) time.Time {
	u := when.UTC()

	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// dayBounds returns the half-open interval [day 00:00, day+1 00:00)
// covering a calendar day. The end-of-day boundary belongs to the next day.
func dayBounds(day time.Time) (start, end time.Time) {
	start = dayOf(day)

	return start, start.AddDate(0, 0, 1)
}
