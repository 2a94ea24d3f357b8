package repository

import (
	"time"

	"github.com/google/uuid"
)

// StoredReading is a cumulative meter reading persisted to the database. Seq orders the rows by insertion,
// which is how the last saved reading of a meter is found.
type StoredReading struct {
	Seq                uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ID                 uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	MeterID            string    `gorm:"index;not null" json:"meter_id"`
	Reading            float64   `gorm:"not null" json:"reading"`
	Time               time.Time `gorm:"index;not null" json:"timestamp"`
	UploadAttemptCount uint      `json:"-"`
	Uploaded           bool      `gorm:"index" json:"-"`
}

func (StoredReading) TableName() string {
	return "readings"
}

func newStoredReading(meterID string, reading float64, t time.Time) StoredReading {
	return StoredReading{
		ID:      uuid.New(),
		MeterID: meterID,
		Reading: reading,
		Time:    t.UTC(),
	}
}

// Statistics summarises the most recent readings of a meter.
type Statistics struct {
	Average float64        `json:"average"`
	Max     float64        `json:"max"`
	Min     float64        `json:"min"`
	Count   int            `json:"count"`
	Latest  *StoredReading `json:"latest"`
}
