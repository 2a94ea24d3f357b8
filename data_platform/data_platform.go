package dataplatform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/metersim/repository"
	"github.com/cepro/metersim/telemetry"
)

const (
	DefaultTable = "readings"

	// uploadChunkLimit defines how many readings we upload in one supabase HTTP request
	uploadChunkLimit = 100
)

// Uploader inserts rows into a hosted table.
type Uploader interface {
	UploadReadings(table string, rows interface{}) error
}

// Buffer holds readings that are waiting to be uploaded.
type Buffer interface {
	PendingUploads(ctx context.Context, limit int, fresh bool) ([]repository.StoredReading, error)
	MarkUploaded(ctx context.Context, readings []repository.StoredReading) error
	IncrementUploadAttemptCount(ctx context.Context, readings []repository.StoredReading) error
}

// DataPlatform replicates the readings stored in the local database to Supabase.
type DataPlatform struct {
	buffer   Buffer
	uploader Uploader
	table    string
	logger   *slog.Logger
}

// supabaseReading holds the json encoding schema for a meter reading in supabase.
type supabaseReading struct {
	MeterID   string  `json:"meter_id"`
	Reading   float64 `json:"reading"`
	Timestamp string  `json:"timestamp"`
}

func New(buffer Buffer, uploader Uploader, table string) *DataPlatform {
	if table == "" {
		table = DefaultTable
	}
	return &DataPlatform{
		buffer:   buffer,
		uploader: uploader,
		table:    table,
		logger:   slog.Default().With("db_table", table),
	}
}

// Run attempts an upload on every tick until the context is cancelled.
func (d *DataPlatform) Run(ctx context.Context, uploadTicks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-uploadTicks:
			d.attemptUpload(ctx)
		}
	}
}

// attemptUpload uploads readings that have never been attempted first, then any that have failed before.
func (d *DataPlatform) attemptUpload(ctx context.Context) {
	for _, fresh := range []bool{true, false} {
		readings, err := d.buffer.PendingUploads(ctx, uploadChunkLimit, fresh)
		if err != nil {
			d.logger.Error("Failed to query pending readings", "fresh", fresh, "error", err)
			continue
		}
		if len(readings) == 0 {
			continue
		}
		err = d.handleReadings(ctx, readings)
		if err != nil {
			d.logger.Error("Failed to handle readings", "fresh", fresh, "error", err)
		}
	}
}

// handleReadings attempts to upload the given readings. If successful the readings are marked as uploaded, otherwise
// their 'upload attempt count' is incremented and they are left for another time.
func (d *DataPlatform) handleReadings(ctx context.Context, readings []repository.StoredReading) error {

	uploadErr := d.uploader.UploadReadings(d.table, convertReadings(readings))
	if uploadErr != nil {
		uploadErr := fmt.Errorf("upload failed: %w", uploadErr)
		errInc := d.buffer.IncrementUploadAttemptCount(ctx, readings)
		if errInc != nil {
			return fmt.Errorf("%w: increment upload attempt count: %w", uploadErr, errInc)
		}
		return uploadErr
	}

	err := d.buffer.MarkUploaded(ctx, readings)
	if err != nil {
		// the readings will be uploaded again next time
		return fmt.Errorf("mark %d readings uploaded: %w", len(readings), err)
	}

	d.logger.Info("Uploaded readings", "db_records", len(readings))

	return nil
}

func convertReadings(readings []repository.StoredReading) []supabaseReading {
	supabaseReadings := make([]supabaseReading, 0, len(readings))
	for _, reading := range readings {
		supabaseReadings = append(supabaseReadings, supabaseReading{
			MeterID:   reading.MeterID,
			Reading:   reading.Reading,
			Timestamp: telemetry.FormatTimestamp(reading.Time),
		})
	}
	return supabaseReadings
}
