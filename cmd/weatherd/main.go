package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/weatherd/internal/config"
	"codeberg.org/mutker/weatherd/internal/fixtures"
	"codeberg.org/mutker/weatherd/internal/logger"
	"codeberg.org/mutker/weatherd/internal/observations"
	"codeberg.org/mutker/weatherd/internal/pid"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Error().Err(err).Msg("failed to write PID file")
		os.Exit(1)
	}
	defer pid.Remove()

	svc, err := observations.NewService(observations.Config{
		DBPath:            cfg.Database,
		DefaultResolution: cfg.Resolution,
	}, logger.Default())
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize observation service")
		return
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if cfg.Fixtures {
		if err := fixtures.Seed(ctx, svc, logger.Default()); err != nil {
			logger.Error().Err(err).Msg("failed to seed fixtures")
			return
		}
	}

	if err := loop(ctx, svc); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}
}

func loop(ctx context.Context, svc observations.Service) error {
	interval := time.Duration(cfg.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().
		Str("database", cfg.Database).
		Int("resolution", cfg.Resolution).
		Msg("Watching station readings...")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logStationStatus(ctx, svc)
		}
	}
}

func logStationStatus(ctx context.Context, svc observations.Service) {
	for _, quantity := range observations.Quantities {
		latest, err := svc.LatestReading(ctx, quantity)
		if err != nil {
			if !observations.IsNotFound(err) {
				logger.Error().Err(err).Str("quantity", string(quantity)).Msg("failed to fetch latest reading")
			}
			continue
		}

		event := logger.Info().
			Str("quantity", string(quantity)).
			Time("when_recorded", latest.WhenRecorded).
			Float64("value", latest.Value)

		if rollup, err := svc.LatestRollup(ctx, quantity); err == nil {
			event = event.
				Float64("day_high", rollup.High).
				Float64("day_low", rollup.Low).
				Float64("day_mean", rollup.Mean)
		}

		event.Msg("Station status")
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
