package observations

import (
	"context"
	"math"
	"time"

	"codeberg.org/mutker/weatherd/internal/errors"
	"codeberg.org/mutker/weatherd/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
	log  logger.Logger
}

func NewService(cfg Config, log logger.Logger) (Service, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err // Already wrapped with appropriate error
	}

	return NewServiceWithRepository(cfg, repo, log), nil
}

// NewServiceWithRepository wires the service onto an existing repository.
func NewServiceWithRepository(cfg Config, repo Repository, log logger.Logger) Service {
	return &service{
		repo: repo,
		cfg:  cfg,
		log:  log,
	}
}

func (s *service) Ingest(ctx context.Context, quantity Quantity, input ReadingInput) (int64, error) {
	errFactory := errors.New()

	if err := checkQuantity(quantity); err != nil {
		return 0, err
	}
	if err := checkValue(input.Value); err != nil {
		return 0, err
	}
	if input.SecondaryValue != nil {
		if err := checkValue(*input.SecondaryValue); err != nil {
			return 0, err
		}
	}
	if input.Resolution < 0 {
		return 0, errFactory.WithData(ErrInvalidReading, input.Resolution)
	}

	reading := Reading{
		Value:          input.Value,
		SecondaryValue: input.SecondaryValue,
		Resolution:     input.Resolution,
	}
	if reading.Resolution == 0 {
		reading.Resolution = s.cfg.DefaultResolution
	}

	when := input.WhenRecorded
	if when.IsZero() {
		when = time.Now().UTC()
	}
	reading.WhenRecorded = NormalizeTimestamp(when.UTC(), reading.Resolution)

	select {
	case <-ctx.Done():
		return 0, errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	id, err := s.repo.InsertReading(ctx, quantity, reading)
	if err != nil {
		return 0, err
	}

	s.log.Debug().
		Str("quantity", string(quantity)).
		Int64("id", id).
		Time("when_recorded", reading.WhenRecorded).
		Float64("value", reading.Value).
		Msg("Reading ingested")

	return id, nil
}

func (s *service) Correct(ctx context.Context, quantity Quantity, id int64, patch ReadingPatch) error {
	errFactory := errors.New()

	if err := checkQuantity(quantity); err != nil {
		return err
	}
	if patch.Value == nil && patch.SecondaryValue == nil {
		return errFactory.WithMessage(ErrInvalidReading, "correction carries no fields")
	}
	if patch.Value != nil {
		if err := checkValue(*patch.Value); err != nil {
			return err
		}
	}
	if patch.SecondaryValue != nil {
		if err := checkValue(*patch.SecondaryValue); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if err := s.repo.UpdateReading(ctx, quantity, id, patch); err != nil {
		return err
	}

	s.log.Debug().
		Str("quantity", string(quantity)).
		Int64("id", id).
		Msg("Reading corrected")

	return nil
}

func (s *service) Reading(ctx context.Context, quantity Quantity, id int64) (*Reading, error) {
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}

	return s.repo.GetReading(ctx, quantity, id)
}

func (s *service) LatestReading(ctx context.Context, quantity Quantity) (*Reading, error) {
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}

	return s.repo.LatestReading(ctx, quantity)
}

func (s *service) Readings(ctx context.Context, quantity Quantity, criteria TimeCriteria) ([]Reading, error) {
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}

	return s.repo.ListReadings(ctx, quantity, criteria)
}

func (s *service) Rollup(ctx context.Context, quantity Quantity, id int64) (*DailyRollup, error) {
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}

	return s.repo.GetRollup(ctx, quantity, id)
}

func (s *service) LatestRollup(ctx context.Context, quantity Quantity) (*DailyRollup, error) {
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}

	return s.repo.LatestRollup(ctx, quantity)
}

func (s *service) Rollups(ctx context.Context, quantity Quantity, criteria DateCriteria) ([]DailyRollup, error) {
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}

	return s.repo.ListRollups(ctx, quantity, criteria)
}

func (s *service) Rebuild(ctx context.Context, quantity Quantity) error {
	errFactory := errors.New()

	if err := checkQuantity(quantity); err != nil {
		return err
	}

	days, err := s.repo.ReadingDays(ctx, quantity)
	if err != nil {
		return err
	}

	for _, day := range days {
		select {
		case <-ctx.Done():
			return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
		default:
		}

		if err := s.repo.RecomputeDay(ctx, quantity, day); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("quantity", string(quantity)).
		Int("days", len(days)).
		Msg("Rollups rebuilt")

	return nil
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}

	return nil
}

func checkQuantity(quantity Quantity) error {
	if !quantity.Valid() {
		return errors.New().WithData(ErrInvalidQuantity, string(quantity))
	}

	return nil
}

func checkValue(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.New().WithData(ErrInvalidReading, value)
	}

	return nil
}
