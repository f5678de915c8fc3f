package observations_test

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"codeberg.org/mutker/weatherd/internal/errors"
	"codeberg.org/mutker/weatherd/internal/logger"
	"codeberg.org/mutker/weatherd/internal/observations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", true); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newTestService(t *testing.T) observations.Service {
	t.Helper()

	svc, err := observations.NewService(observations.Config{
		DBPath:            ":memory:",
		DefaultResolution: 15,
	}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, svc.Close())
	})

	return svc
}

func ingest(t *testing.T, svc observations.Service, quantity observations.Quantity, when time.Time, value float64) int64 {
	t.Helper()

	id, err := svc.Ingest(context.Background(), quantity, observations.ReadingInput{
		WhenRecorded: when,
		Value:        value,
	})
	require.NoError(t, err)

	return id
}

func TestIngestNormalizesTimestamp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, err := svc.Ingest(ctx, observations.Temperature, observations.ReadingInput{
		WhenRecorded: time.Date(2024, 5, 1, 6, 2, 30, 0, time.UTC),
		Value:        21.5,
	})
	require.NoError(t, err)

	stored, err := svc.Reading(ctx, observations.Temperature, id)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), stored.WhenRecorded)
	assert.Equal(t, 21.5, stored.Value)
	assert.Equal(t, 15, stored.Resolution, "default resolution applies")
}

func TestIngestConflictReturnsExistingID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := ingest(t, svc, observations.Temperature,
		time.Date(2024, 5, 1, 6, 2, 0, 0, time.UTC), 21.5)

	// 06:07 normalizes onto the same 06:00 slot
	_, err := svc.Ingest(ctx, observations.Temperature, observations.ReadingInput{
		WhenRecorded: time.Date(2024, 5, 1, 6, 7, 0, 0, time.UTC),
		Value:        22.0,
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, observations.ErrDuplicateSlot))

	existing, ok := observations.ConflictingID(err)
	require.True(t, ok, "conflict must carry the existing reading id")
	assert.Equal(t, first, existing)

	// Exactly one row was stored
	readings, err := svc.Readings(ctx, observations.Temperature, observations.TimeCriteria{})
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 21.5, readings[0].Value)
}

func TestIngestSameSlotDifferentQuantities(t *testing.T) {
	svc := newTestService(t)
	when := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

	ingest(t, svc, observations.Temperature, when, 21.5)
	ingest(t, svc, observations.Pressure, when, 101.3)
}

func TestIngestValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, observations.Quantity("humidity"), observations.ReadingInput{Value: 55})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, observations.ErrInvalidQuantity))

	nan := math.NaN()
	_, err = svc.Ingest(ctx, observations.Temperature, observations.ReadingInput{Value: nan})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, observations.ErrInvalidReading))
}

func TestSecondaryValueRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sensorTemp := 23.4

	id, err := svc.Ingest(ctx, observations.Pressure, observations.ReadingInput{
		WhenRecorded:   time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		Value:          101.3,
		SecondaryValue: &sensorTemp,
	})
	require.NoError(t, err)

	stored, err := svc.Reading(ctx, observations.Pressure, id)
	require.NoError(t, err)
	require.NotNil(t, stored.SecondaryValue)
	assert.Equal(t, 23.4, *stored.SecondaryValue)
}

func TestLatestReading(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.LatestReading(ctx, observations.Temperature)
	require.Error(t, err)
	assert.True(t, observations.IsNotFound(err))

	ingest(t, svc, observations.Temperature, time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), 20.0)
	ingest(t, svc, observations.Temperature, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), 22.0)
	ingest(t, svc, observations.Temperature, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), 21.0)

	latest, err := svc.LatestReading(ctx, observations.Temperature)
	require.NoError(t, err)
	assert.Equal(t, 22.0, latest.Value)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), latest.WhenRecorded)
}

func TestReadingsNoCriteriaAscending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ingest(t, svc, observations.Temperature, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), 22.0)
	ingest(t, svc, observations.Temperature, time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), 20.0)
	ingest(t, svc, observations.Temperature, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), 21.0)

	readings, err := svc.Readings(ctx, observations.Temperature, observations.TimeCriteria{})
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, 20.0, readings[0].Value)
	assert.Equal(t, 21.0, readings[1].Value)
	assert.Equal(t, 22.0, readings[2].Value)
}

func TestReadingsInclusiveBounds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	t1 := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ingest(t, svc, observations.Temperature, t1, 20.0)
	ingest(t, svc, observations.Temperature, t2, 21.0)
	ingest(t, svc, observations.Temperature, t3, 22.0)

	readings, err := svc.Readings(ctx, observations.Temperature, observations.TimeCriteria{
		After:  &t2,
		Before: &t3,
	})
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, t2, readings[0].WhenRecorded)
	assert.Equal(t, t3, readings[1].WhenRecorded)
}

func TestReadingsExactlyIgnoresOtherBounds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	t1 := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ingest(t, svc, observations.Temperature, t1, 20.0)
	ingest(t, svc, observations.Temperature, t2, 21.0)

	// After would also match t1; exactly takes precedence
	readings, err := svc.Readings(ctx, observations.Temperature, observations.TimeCriteria{
		Exactly: &t2,
		After:   &t1,
	})
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, t2, readings[0].WhenRecorded)
}

func TestRollupScenario(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	ingest(t, svc, observations.Temperature, day.Add(15*time.Minute), 10.0)
	ingest(t, svc, observations.Temperature, day.Add(6*time.Hour), 20.0)
	ingest(t, svc, observations.Temperature, day.Add(12*time.Hour), 15.0)

	rollup, err := svc.LatestRollup(ctx, observations.Temperature)
	require.NoError(t, err)

	assert.Equal(t, day, rollup.Day)
	assert.Equal(t, 20.0, rollup.High)
	assert.Equal(t, day.Add(6*time.Hour), rollup.HighRecorded)
	assert.Equal(t, 10.0, rollup.Low)
	assert.Equal(t, day.Add(15*time.Minute), rollup.LowRecorded)
	assert.Equal(t, 15.0, rollup.Median)
	assert.Equal(t, day.Add(12*time.Hour), rollup.MedianRecorded)
	assert.Equal(t, 15.0, rollup.Mean)
}

func TestRollupSingleReading(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	when := time.Date(2024, 5, 1, 8, 15, 0, 0, time.UTC)

	ingest(t, svc, observations.Temperature, when, 21.5)

	rollup, err := svc.LatestRollup(ctx, observations.Temperature)
	require.NoError(t, err)

	assert.Equal(t, 21.5, rollup.High)
	assert.Equal(t, 21.5, rollup.Low)
	assert.Equal(t, 21.5, rollup.Median)
	assert.Equal(t, 21.5, rollup.Mean)
	assert.Equal(t, when, rollup.HighRecorded)
	assert.Equal(t, when, rollup.LowRecorded)
	assert.Equal(t, when, rollup.MedianRecorded)
}

func TestRollupRowReusedAcrossRecomputes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	ingest(t, svc, observations.Temperature, day.Add(6*time.Hour), 20.0)
	first, err := svc.LatestRollup(ctx, observations.Temperature)
	require.NoError(t, err)

	ingest(t, svc, observations.Temperature, day.Add(9*time.Hour), 24.0)
	second, err := svc.LatestRollup(ctx, observations.Temperature)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "upsert must preserve the rollup id")
	assert.Equal(t, 24.0, second.High)

	rollups, err := svc.Rollups(ctx, observations.Temperature, observations.DateCriteria{})
	require.NoError(t, err)
	assert.Len(t, rollups, 1, "at most one rollup per day")
}

func TestCorrectRecomputesRollup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	ingest(t, svc, observations.Temperature, day.Add(15*time.Minute), 10.0)
	id := ingest(t, svc, observations.Temperature, day.Add(6*time.Hour), 20.0)
	ingest(t, svc, observations.Temperature, day.Add(12*time.Hour), 15.0)

	corrected := 8.0
	err := svc.Correct(ctx, observations.Temperature, id, observations.ReadingPatch{Value: &corrected})
	require.NoError(t, err)

	rollup, err := svc.LatestRollup(ctx, observations.Temperature)
	require.NoError(t, err)

	// The corrected value displaces the old high entirely
	assert.Equal(t, 15.0, rollup.High)
	assert.Equal(t, day.Add(12*time.Hour), rollup.HighRecorded)
	assert.Equal(t, 8.0, rollup.Low)
	assert.Equal(t, day.Add(6*time.Hour), rollup.LowRecorded)
	assert.Equal(t, 10.0, rollup.Median)
	assert.InDelta(t, 11.0, rollup.Mean, 1e-9)
}

func TestCorrectNotFound(t *testing.T) {
	svc := newTestService(t)
	value := 20.0

	err := svc.Correct(context.Background(), observations.Temperature, 12345,
		observations.ReadingPatch{Value: &value})
	require.Error(t, err)
	assert.True(t, observations.IsNotFound(err))
}

func TestCorrectEmptyPatch(t *testing.T) {
	svc := newTestService(t)

	err := svc.Correct(context.Background(), observations.Temperature, 1, observations.ReadingPatch{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, observations.ErrInvalidReading))
}

func TestCorrectDoesNotMoveTimestamp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	when := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

	id := ingest(t, svc, observations.Temperature, when, 20.0)

	corrected := 21.0
	require.NoError(t, svc.Correct(ctx, observations.Temperature, id,
		observations.ReadingPatch{Value: &corrected}))

	stored, err := svc.Reading(ctx, observations.Temperature, id)
	require.NoError(t, err)
	assert.Equal(t, when, stored.WhenRecorded)
	assert.Equal(t, 21.0, stored.Value)
}

func TestRollupsByDate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	ingest(t, svc, observations.Temperature, day1.Add(6*time.Hour), 20.0)
	ingest(t, svc, observations.Temperature, day2.Add(6*time.Hour), 22.0)

	rollups, err := svc.Rollups(ctx, observations.Temperature, observations.DateCriteria{})
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, day1, rollups[0].Day)
	assert.Equal(t, day2, rollups[1].Day)

	rollups, err = svc.Rollups(ctx, observations.Temperature, observations.DateCriteria{After: &day2})
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, day2, rollups[0].Day)

	exactly := day1
	rollups, err = svc.Rollups(ctx, observations.Temperature, observations.DateCriteria{
		Exactly: &exactly,
		After:   &day2,
	})
	require.NoError(t, err)
	require.Len(t, rollups, 1, "exactly must override after")
	assert.Equal(t, day1, rollups[0].Day)
}

func TestRollupFetchByID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ingest(t, svc, observations.Temperature, time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), 20.0)

	latest, err := svc.LatestRollup(ctx, observations.Temperature)
	require.NoError(t, err)

	byID, err := svc.Rollup(ctx, observations.Temperature, latest.ID)
	require.NoError(t, err)
	assert.Equal(t, latest, byID)

	_, err = svc.Rollup(ctx, observations.Temperature, 9999)
	require.Error(t, err)
	assert.True(t, observations.IsNotFound(err))
}

func TestDayBoundaryBelongsToNextDay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ingest(t, svc, observations.Temperature, day1.Add(23*time.Hour), 20.0)
	// Midnight lands in the next day's rollup
	ingest(t, svc, observations.Temperature, day1.AddDate(0, 0, 1), 25.0)

	rollups, err := svc.Rollups(ctx, observations.Temperature, observations.DateCriteria{})
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, 20.0, rollups[0].High)
	assert.Equal(t, 25.0, rollups[1].High)
}

func TestRebuild(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	ingest(t, svc, observations.Temperature, day1.Add(6*time.Hour), 20.0)
	ingest(t, svc, observations.Temperature, day1.Add(9*time.Hour), 24.0)
	ingest(t, svc, observations.Temperature, day2.Add(6*time.Hour), 18.0)

	require.NoError(t, svc.Rebuild(ctx, observations.Temperature))

	rollups, err := svc.Rollups(ctx, observations.Temperature, observations.DateCriteria{})
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, 24.0, rollups[0].High)
	assert.Equal(t, 20.0, rollups[0].Low)
	assert.Equal(t, 18.0, rollups[1].High)
}
