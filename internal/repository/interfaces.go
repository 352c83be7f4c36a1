package repository

import (
	"time"

	"crowdwatch/internal/model"
)

// CrowdRepository defines the interface for crowd record persistence.
type CrowdRepository interface {
	// Create operations
	InsertBatch(records []model.CrowdRecord) error

	// Read operations
	Latest(vehicleID string) (*model.CrowdRecord, error)
	History(vehicleID string, limit int) ([]model.CrowdRecord, error)
	Stats() ([]model.VehicleStats, error)

	// Delete operations
	DeleteBefore(cutoff time.Time) (int64, error)
}
