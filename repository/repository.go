package repository

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/glebarez/sqlite"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// StatisticsWindow is the number of recent readings that Statistics summarises.
	StatisticsWindow = 1000
)

// Repository stores meter readings, either in a local sqlite file or in a postgres database.
// Rows stored locally can be replicated to Supabase by the data platform.
type Repository struct {
	db *gorm.DB
}

// New opens a sqlite database at the given path.
func New(path string) (*Repository, error) {
	return Open(DriverSQLite, path)
}

// Open connects to the database with the given driver and migrates the schema.
func Open(driver, dsn string) (*Repository, error) {

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver '%s'", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Migrate the schema
	err = db.AutoMigrate(&StoredReading{})
	if err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Repository{
		db: db,
	}, nil
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AddReading stores a new reading and returns the stored row.
func (r *Repository) AddReading(ctx context.Context, meterID string, reading float64, t time.Time) (StoredReading, error) {
	row := newStoredReading(meterID, reading, t)
	result := r.db.WithContext(ctx).Create(&row)
	if result.Error != nil {
		return StoredReading{}, fmt.Errorf("insert reading for '%s': %w", meterID, result.Error)
	}
	return row, nil
}

// AppendReading stores a new reading.
func (r *Repository) AppendReading(ctx context.Context, meterID string, reading float64, t time.Time) error {
	_, err := r.AddReading(ctx, meterID, reading, t)
	return err
}

// FetchLastReading returns the most recently inserted reading for the meter, and false if there are none.
func (r *Repository) FetchLastReading(ctx context.Context, meterID string) (float64, bool, error) {
	var rows []StoredReading
	result := r.db.WithContext(ctx).Where("meter_id = ?", meterID).Order("seq desc").Limit(1).Find(&rows)
	if result.Error != nil {
		return 0, false, fmt.Errorf("query last reading for '%s': %w", meterID, result.Error)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Reading, true, nil
}

// Readings returns the newest readings across all meters, newest first.
func (r *Repository) Readings(ctx context.Context, limit int) ([]StoredReading, error) {
	readings := []StoredReading{}
	result := r.db.WithContext(ctx).Order("time desc, seq desc").Limit(limit).Find(&readings)
	if result.Error != nil {
		return nil, fmt.Errorf("query readings: %w", result.Error)
	}
	return readings, nil
}

// MeterReadings returns the newest readings of one meter, newest first.
func (r *Repository) MeterReadings(ctx context.Context, meterID string, limit int) ([]StoredReading, error) {
	readings := []StoredReading{}
	result := r.db.WithContext(ctx).Where("meter_id = ?", meterID).Order("time desc, seq desc").Limit(limit).Find(&readings)
	if result.Error != nil {
		return nil, fmt.Errorf("query readings for '%s': %w", meterID, result.Error)
	}
	return readings, nil
}

// ReadingsBetween returns the readings timestamped within [start, end], oldest first. An empty meterID matches
// every meter.
func (r *Repository) ReadingsBetween(ctx context.Context, start, end time.Time, meterID string) ([]StoredReading, error) {
	readings := []StoredReading{}
	query := r.db.WithContext(ctx).Where("time >= ? AND time <= ?", start.UTC(), end.UTC())
	if meterID != "" {
		query = query.Where("meter_id = ?", meterID)
	}
	result := query.Order("time asc, seq asc").Find(&readings)
	if result.Error != nil {
		return nil, fmt.Errorf("query readings between %v and %v: %w", start, end, result.Error)
	}
	return readings, nil
}

// LatestReading returns the reading of the meter with the newest timestamp, and false if there are none.
func (r *Repository) LatestReading(ctx context.Context, meterID string) (StoredReading, bool, error) {
	readings, err := r.MeterReadings(ctx, meterID, 1)
	if err != nil {
		return StoredReading{}, false, err
	}
	if len(readings) == 0 {
		return StoredReading{}, false, nil
	}
	return readings[0], true, nil
}

// MeterIDs returns every meter that has at least one reading, in alphabetical order.
func (r *Repository) MeterIDs(ctx context.Context) ([]string, error) {
	meterIDs := []string{}
	result := r.db.WithContext(ctx).Model(&StoredReading{}).Distinct("meter_id").Order("meter_id").Pluck("meter_id", &meterIDs)
	if result.Error != nil {
		return nil, fmt.Errorf("query meter ids: %w", result.Error)
	}
	return meterIDs, nil
}

// Statistics summarises the last StatisticsWindow readings of the meter. A meter without readings gives zeroed
// statistics.
func (r *Repository) Statistics(ctx context.Context, meterID string) (Statistics, error) {
	readings, err := r.MeterReadings(ctx, meterID, StatisticsWindow)
	if err != nil {
		return Statistics{}, err
	}
	if len(readings) == 0 {
		return Statistics{}, nil
	}

	values := make([]float64, len(readings))
	for i, reading := range readings {
		values[i] = reading.Reading
	}

	return Statistics{
		Average: math.Round(stat.Mean(values, nil)*100) / 100,
		Max:     floats.Max(values),
		Min:     floats.Min(values),
		Count:   len(values),
		Latest:  &readings[0],
	}, nil
}

// PendingUploads returns readings that have not been uploaded yet. If `fresh` is true then only readings that have
// never been attempted are returned, otherwise only readings that have failed at least once.
func (r *Repository) PendingUploads(ctx context.Context, limit int, fresh bool) ([]StoredReading, error) {
	var readings []StoredReading

	query := r.db.WithContext(ctx).Where("uploaded = ?", false).Limit(limit).Order("upload_attempt_count asc, time desc")
	if fresh {
		query = query.Where("upload_attempt_count = ?", 0)
	} else {
		query = query.Where("upload_attempt_count > ?", 0)
	}
	result := query.Find(&readings)
	if result.Error != nil {
		return nil, result.Error
	}
	return readings, nil
}

// MarkUploaded flags the given readings as uploaded. They stay in the database to serve queries.
func (r *Repository) MarkUploaded(ctx context.Context, readings []StoredReading) error {
	if len(readings) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&StoredReading{}).Where("seq IN ?", seqs(readings)).Update("uploaded", true)
	return result.Error
}

func (r *Repository) IncrementUploadAttemptCount(ctx context.Context, readings []StoredReading) error {
	if len(readings) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&StoredReading{}).Where("seq IN ?", seqs(readings)).
		UpdateColumn("upload_attempt_count", gorm.Expr("upload_attempt_count + ?", 1))
	return result.Error
}

func seqs(readings []StoredReading) []uint64 {
	s := make([]uint64, len(readings))
	for i, reading := range readings {
		s[i] = reading.Seq
	}
	return s
}
