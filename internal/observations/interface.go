package observations

import (
	"context"
	"time"
)

// Quantity identifies a measured physical quantity.
type Quantity string

const (
	Temperature Quantity = "temperature"
	Pressure    Quantity = "pressure"
)

// Quantities lists every known quantity.
var Quantities = []Quantity{Temperature, Pressure}

// Valid reports whether q names a known quantity.
func (q Quantity) Valid() bool {
	for _, known := range Quantities {
		if q == known {
			return true
		}
	}

	return false
}

// Reading is one timestamped observation of a quantity. WhenRecorded is
// the normalized timestamp and acts as the natural dedup key per quantity.
type Reading struct {
	ID             int64
	WhenRecorded   time.Time
	Value          float64
	SecondaryValue *float64
	Resolution     int
}

// DailyRollup is the once-daily summary derived from a day's readings.
// High, Low and Median reference actual readings from that day; Mean is
// computed, so it has no source timestamp.
type DailyRollup struct {
	ID             int64
	Day            time.Time
	High           float64
	Low            float64
	Mean           float64
	Median         float64
	HighRecorded   time.Time
	LowRecorded    time.Time
	MedianRecorded time.Time
}

// ReadingInput is the ingestion payload. A zero WhenRecorded defaults to
// the current time, a zero Resolution to the configured default.
type ReadingInput struct {
	WhenRecorded   time.Time
	Value          float64
	SecondaryValue *float64
	Resolution     int
}

// ReadingPatch carries a correction. Nil fields are left unchanged; the
// recorded timestamp is immutable after insert.
type ReadingPatch struct {
	Value          *float64
	SecondaryValue *float64
}

// Service defines the collaborator-facing interface of the engine.
type Service interface {
	// Ingest normalizes, deduplicates and stores a reading, then brings
	// the enclosing day's rollup up to date. On a duplicate slot the
	// returned error carries the id of the existing reading.
	Ingest(ctx context.Context, quantity Quantity, input ReadingInput) (int64, error)

	// Correct replaces the mutable fields of an existing reading and
	// recomputes the rollup of its day.
	Correct(ctx context.Context, quantity Quantity, id int64, patch ReadingPatch) error

	Reading(ctx context.Context, quantity Quantity, id int64) (*Reading, error)
	LatestReading(ctx context.Context, quantity Quantity) (*Reading, error)
	Readings(ctx context.Context, quantity Quantity, criteria TimeCriteria) ([]Reading, error)

	Rollup(ctx context.Context, quantity Quantity, id int64) (*DailyRollup, error)
	LatestRollup(ctx context.Context, quantity Quantity) (*DailyRollup, error)
	Rollups(ctx context.Context, quantity Quantity, criteria DateCriteria) ([]DailyRollup, error)

	// Rebuild recomputes the rollup of every day that has readings.
	Rebuild(ctx context.Context, quantity Quantity) error

	Close() error
}
