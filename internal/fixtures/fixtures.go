package fixtures

import (
	"context"
	"math/rand"
	"time"

	"codeberg.org/mutker/weatherd/internal/logger"
	"codeberg.org/mutker/weatherd/internal/observations"
)

const (
	// Recent window: one reading per resolution step for both quantities
	recentWindow = 24 * time.Hour
	recentStep   = 15 * time.Minute

	// History: a sparser series feeding the daily rollups
	historyDays = 45
	historyStep = 3 * time.Hour
)

// Seed populates an empty store with demo data: a 24 hour window of
// 15-minute readings plus several weeks of sparser history, so rollups
// exist for every seeded day. Seeding is skipped when any quantity already
// has readings.
func Seed(ctx context.Context, svc observations.Service, log logger.Logger) error {
	empty, err := storeEmpty(ctx, svc)
	if err != nil {
		return err
	}
	if !empty {
		log.Debug().Msg("Store already has readings, skipping fixtures")
		return nil
	}

	start := time.Now().UTC().Truncate(time.Hour)
	count := 0

	for offset := recentStep; offset <= recentWindow; offset += recentStep {
		when := start.Add(-offset)
		if err := seedPair(ctx, svc, when); err != nil {
			return err
		}
		count += 2
	}

	for day := 2; day <= historyDays+1; day++ {
		dayStart := startOfDay(start).AddDate(0, 0, -day)
		for offset := time.Duration(0); offset < 24*time.Hour; offset += historyStep {
			if err := seedPair(ctx, svc, dayStart.Add(offset)); err != nil {
				return err
			}
			count += 2
		}
	}

	log.Info().Int("readings", count).Msg("Fixture data seeded")

	return nil
}

func storeEmpty(ctx context.Context, svc observations.Service) (bool, error) {
	for _, quantity := range observations.Quantities {
		_, err := svc.LatestReading(ctx, quantity)
		switch {
		case err == nil:
			return false, nil
		case observations.IsNotFound(err):
		default:
			return false, err
		}
	}

	return true, nil
}

func seedPair(ctx context.Context, svc observations.Service, when time.Time) error {
	if _, err := svc.Ingest(ctx, observations.Temperature, observations.ReadingInput{
		WhenRecorded: when,
		Value:        uniform(16.0, 24.0),
	}); err != nil {
		return err
	}

	sensorTemp := uniform(18.0, 28.0)
	if _, err := svc.Ingest(ctx, observations.Pressure, observations.ReadingInput{
		WhenRecorded:   when,
		Value:          uniform(98.0, 102.0),
		SecondaryValue: &sensorTemp,
	}); err != nil {
		return err
	}

	return nil
}

func startOfDay(when time.Time) time.Time {
	u := when.UTC()

	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func uniform(low, high float64) float64 {
	return low + rand.Float64()*(high-low)
}
