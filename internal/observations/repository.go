package observations

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/weatherd/internal/errors"
	"codeberg.org/mutker/weatherd/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

// Repository defines the storage interface for readings and rollups. Every
// write also brings the affected day's rollup up to date within the same
// transaction, so readers never observe a reading without its rollup.
type Repository interface {
	InsertReading(ctx context.Context, quantity Quantity, reading Reading) (int64, error)
	UpdateReading(ctx context.Context, quantity Quantity, id int64, patch ReadingPatch) error
	GetReading(ctx context.Context, quantity Quantity, id int64) (*Reading, error)
	LatestReading(ctx context.Context, quantity Quantity) (*Reading, error)
	ListReadings(ctx context.Context, quantity Quantity, criteria TimeCriteria) ([]Reading, error)

	GetRollup(ctx context.Context, quantity Quantity, id int64) (*DailyRollup, error)
	LatestRollup(ctx context.Context, quantity Quantity) (*DailyRollup, error)
	ListRollups(ctx context.Context, quantity Quantity, criteria DateCriteria) ([]DailyRollup, error)

	RecomputeDay(ctx context.Context, quantity Quantity, day time.Time) error
	ReadingDays(ctx context.Context, quantity Quantity) ([]time.Time, error)

	Close() error
}

const (
	selectReadingSQL = `
    SELECT id, when_recorded, value, secondary_value, resolution
    FROM readings`

	selectRollupSQL = `
    SELECT id, day, high, low, mean, median,
           high_recorded, low_recorded, median_recorded
    FROM daily_rollups`
)

type sqliteRepository struct {
	db  *sql.DB
	log logger.Logger
	mu  sync.Mutex
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	log.Debug().Str("path", cfg.DBPath).Msg("Initializing observation repository")

	dsn := cfg.DBPath
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
			return nil, errFactory.Wrap(ErrStorageInit, err)
		}
		dsn += "?_journal=WAL&_auto_vacuum=2"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	// A single connection keeps in-memory databases coherent and
	// serializes same-day writes with their rollup recomputation.
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{
		db:  db,
		log: log,
	}, nil
}

func (r *sqliteRepository) InsertReading(ctx context.Context, quantity Quantity, reading Reading) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer rollbackOnError(tx, r.log)

	var existing int64
	err = tx.QueryRowContext(ctx, `
        SELECT id FROM readings
        WHERE quantity = ? AND when_recorded = ?
    `, string(quantity), reading.WhenRecorded.Unix()).Scan(&existing)
	switch {
	case err == nil:
		return 0, errFactory.WithData(ErrDuplicateSlot, conflictData{ExistingID: existing})
	case !errors.Is(err, sql.ErrNoRows):
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	result, err := tx.ExecContext(ctx, insertReadingSQL,
		string(quantity),
		reading.WhenRecorded.Unix(),
		reading.Value,
		nullable(reading.SecondaryValue),
		reading.Resolution,
	)
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	if err := r.recomputeDayTx(ctx, tx, quantity, dayOf(reading.WhenRecorded)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	return id, nil
}

func (r *sqliteRepository) UpdateReading(ctx context.Context, quantity Quantity, id int64, patch ReadingPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer rollbackOnError(tx, r.log)

	var recordedUnix int64
	err = tx.QueryRowContext(ctx, `
        SELECT when_recorded FROM readings
        WHERE quantity = ? AND id = ?
    `, string(quantity), id).Scan(&recordedUnix)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errFactory.WithData(ErrReadingNotFound, id)
	case err != nil:
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	set := ""
	args := []any{}
	if patch.Value != nil {
		set += "value = ?"
		args = append(args, *patch.Value)
	}
	if patch.SecondaryValue != nil {
		if set != "" {
			set += ", "
		}
		set += "secondary_value = ?"
		args = append(args, *patch.SecondaryValue)
	}
	if set == "" {
		return errFactory.WithMessage(ErrInvalidReading, "correction carries no fields")
	}

	args = append(args, string(quantity), id)
	if _, err := tx.ExecContext(ctx,
		"UPDATE readings SET "+set+" WHERE quantity = ? AND id = ?", args...); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	recorded := time.Unix(recordedUnix, 0).UTC()
	if err := r.recomputeDayTx(ctx, tx, quantity, dayOf(recorded)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	return nil
}

func (r *sqliteRepository) GetReading(ctx context.Context, quantity Quantity, id int64) (*Reading, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx,
		selectReadingSQL+" WHERE quantity = ? AND id = ?", string(quantity), id)

	reading, err := scanReading(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, errFactory.WithData(ErrReadingNotFound, id)
	case err != nil:
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return reading, nil
}

func (r *sqliteRepository) LatestReading(ctx context.Context, quantity Quantity) (*Reading, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx,
		selectReadingSQL+` WHERE quantity = ?
        ORDER BY when_recorded DESC LIMIT 1`, string(quantity))

	reading, err := scanReading(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, errFactory.New(ErrReadingNotFound)
	case err != nil:
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return reading, nil
}

func (r *sqliteRepository) ListReadings(ctx context.Context, quantity Quantity, criteria TimeCriteria) ([]Reading, error) {
	errFactory := errors.New()

	clause, clauseArgs := criteria.clause("when_recorded")
	query := selectReadingSQL + " WHERE quantity = ?" + clause + " ORDER BY when_recorded ASC"
	args := append([]any{string(quantity)}, clauseArgs...)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return readings, nil
}

func (r *sqliteRepository) GetRollup(ctx context.Context, quantity Quantity, id int64) (*DailyRollup, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx,
		selectRollupSQL+" WHERE quantity = ? AND id = ?", string(quantity), id)

	rollup, err := scanRollup(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, errFactory.WithData(ErrRollupNotFound, id)
	case err != nil:
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return rollup, nil
}

func (r *sqliteRepository) LatestRollup(ctx context.Context, quantity Quantity) (*DailyRollup, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx,
		selectRollupSQL+` WHERE quantity = ?
        ORDER BY day DESC LIMIT 1`, string(quantity))

	rollup, err := scanRollup(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, errFactory.New(ErrRollupNotFound)
	case err != nil:
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return rollup, nil
}

func (r *sqliteRepository) ListRollups(ctx context.Context, quantity Quantity, criteria DateCriteria) ([]DailyRollup, error) {
	errFactory := errors.New()

	clause, clauseArgs := criteria.clause("day")
	query := selectRollupSQL + " WHERE quantity = ?" + clause + " ORDER BY day ASC"
	args := append([]any{string(quantity)}, clauseArgs...)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	rollups := []DailyRollup{}
	for rows.Next() {
		rollup, err := scanRollup(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		rollups = append(rollups, *rollup)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return rollups, nil
}

func (r *sqliteRepository) RecomputeDay(ctx context.Context, quantity Quantity, day time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer rollbackOnError(tx, r.log)

	if err := r.recomputeDayTx(ctx, tx, quantity, day); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	return nil
}

func (r *sqliteRepository) ReadingDays(ctx context.Context, quantity Quantity) ([]time.Time, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `
        SELECT DISTINCT date(when_recorded, 'unixepoch')
        FROM readings
        WHERE quantity = ?
        ORDER BY 1 ASC
    `, string(quantity))
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	days := []time.Time{}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		day, err := time.ParseInLocation(dayLayout, value, time.UTC)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return days, nil
}

func (r *sqliteRepository) Close() error {
	errFactory := errors.New()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}

// recomputeDayTx rebuilds the rollup row for one day from the full set of
// that day's readings, inside the caller's transaction. Readings are
// fetched in insertion order so the aggregation's stable sort resolves
// value ties by earliest insert. An empty day is a no-op.
func (r *sqliteRepository) recomputeDayTx(ctx context.Context, tx *sql.Tx, quantity Quantity, day time.Time) error {
	errFactory := errors.New()

	start, end := dayBounds(day)
	rows, err := tx.QueryContext(ctx,
		selectReadingSQL+` WHERE quantity = ?
        AND when_recorded >= ? AND when_recorded < ?
        ORDER BY id ASC`,
		string(quantity), start.Unix(), end.Unix())
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	readings := []Reading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			rows.Close()
			return errFactory.Wrap(ErrStorageAccess, err)
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	rows.Close()

	stats, ok := computeDayStats(readings)
	if !ok {
		return nil
	}

	if _, err := tx.ExecContext(ctx, upsertRollupSQL,
		string(quantity),
		start.Format(dayLayout),
		stats.high.Value,
		stats.low.Value,
		stats.mean,
		stats.median.Value,
		stats.high.WhenRecorded.Unix(),
		stats.low.WhenRecorded.Unix(),
		stats.median.WhenRecorded.Unix(),
	); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*Reading, error) {
	var (
		reading   Reading
		recorded  int64
		secondary sql.NullFloat64
	)

	if err := row.Scan(&reading.ID, &recorded, &reading.Value, &secondary, &reading.Resolution); err != nil {
		return nil, err
	}

	reading.WhenRecorded = time.Unix(recorded, 0).UTC()
	if secondary.Valid {
		value := secondary.Float64
		reading.SecondaryValue = &value
	}

	return &reading, nil
}

func scanRollup(row rowScanner) (*DailyRollup, error) {
	var rollup DailyRollup
	var day string
	var highRec, lowRec, medianRec int64

	if err := row.Scan(&rollup.ID, &day,
		&rollup.High, &rollup.Low, &rollup.Mean, &rollup.Median,
		&highRec, &lowRec, &medianRec); err != nil {
		return nil, err
	}

	parsed, err := time.ParseInLocation(dayLayout, day, time.UTC)
	if err != nil {
		return nil, err
	}

	rollup.Day = parsed
	rollup.HighRecorded = time.Unix(highRec, 0).UTC()
	rollup.LowRecorded = time.Unix(lowRec, 0).UTC()
	rollup.MedianRecorded = time.Unix(medianRec, 0).UTC()

	return &rollup, nil
}

func nullable(value *float64) any {
	if value == nil {
		return nil
	}

	return *value
}

func rollbackOnError(tx *sql.Tx, log logger.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Debug().Err(err).Msg("Failed to rollback transaction")
	}
}
