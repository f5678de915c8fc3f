package observations

import "sort"

// dayStats holds the statistics derived from one day's readings.
type dayStats struct {
	high   Reading
	low    Reading
	median Reading
	mean   float64
}

// computeDayStats derives the daily statistics from a single stable
// value-descending sort of the day's readings. The input must be in
// insertion order, so equal values keep that order: on ties the
// earliest-inserted reading wins for high, and low and median come from
// the same sort pass rather than a second ordering. The median is the
// element at index floor(n/2) of the descending sequence. For even-sized
// sets this is the lower middle value, never an average, so the median
// always references an actual reading and carries its timestamp.
func computeDayStats(readings []Reading) (dayStats, bool) {
	if len(readings) == 0 {
		return dayStats{}, false
	}

	sorted := make([]Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})

	sum := 0.0
	for _, r := range sorted {
		sum += r.Value
	}

	return dayStats{
		high:   sorted[0],
		low:    sorted[len(sorted)-1],
		median: sorted[len(sorted)/2],
		mean:   sum / float64(len(sorted)),
	}, true
}
