package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"crowdwatch/internal/model"
)

// CrowdRepository implements repository.CrowdRepository for SQLite.
type CrowdRepository struct {
	db *DB
}

// NewCrowdRepository creates a new SQLite crowd repository.
func NewCrowdRepository(db *DB) *CrowdRepository {
	return &CrowdRepository{db: db}
}

// InsertBatch adds multiple records in a single transaction.
func (r *CrowdRepository) InsertBatch(records []model.CrowdRecord) error {
	if len(records) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO crowd_records (id, vehicle_id, passenger_count, capacity_percentage, detection_source, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		// UTC keeps the stored text sortable
		if _, err := stmt.Exec(rec.ID, rec.VehicleID, rec.PassengerCount, rec.CapacityPercentage, rec.Source, rec.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to insert crowd record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// Latest returns the newest record of a vehicle, or nil when none is stored.
func (r *CrowdRepository) Latest(vehicleID string) (*model.CrowdRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.latest(vehicleID)
}

func (r *CrowdRepository) latest(vehicleID string) (*model.CrowdRecord, error) {
	var rec model.CrowdRecord
	err := r.db.Conn().QueryRow(`
		SELECT id, vehicle_id, passenger_count, capacity_percentage, detection_source, timestamp
		FROM crowd_records WHERE vehicle_id = ?
		ORDER BY timestamp DESC LIMIT 1
	`, vehicleID).Scan(&rec.ID, &rec.VehicleID, &rec.PassengerCount, &rec.CapacityPercentage, &rec.Source, &rec.Timestamp)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest crowd record: %w", err)
	}
	return &rec, nil
}

// History returns up to limit records of a vehicle, newest first.
func (r *CrowdRepository) History(vehicleID string, limit int) ([]model.CrowdRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := r.db.Conn().Query(`
		SELECT id, vehicle_id, passenger_count, capacity_percentage, detection_source, timestamp
		FROM crowd_records WHERE vehicle_id = ?
		ORDER BY timestamp DESC LIMIT ?
	`, vehicleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crowd history: %w", err)
	}
	defer rows.Close()

	records := []model.CrowdRecord{}
	for rows.Next() {
		var rec model.CrowdRecord
		if err := rows.Scan(&rec.ID, &rec.VehicleID, &rec.PassengerCount, &rec.CapacityPercentage, &rec.Source, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan crowd record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Stats summarizes stored records per vehicle, ordered by vehicle id.
func (r *CrowdRepository) Stats() ([]model.VehicleStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT vehicle_id, COUNT(*), MAX(passenger_count)
		FROM crowd_records GROUP BY vehicle_id ORDER BY vehicle_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query crowd stats: %w", err)
	}

	var stats []model.VehicleStats
	for rows.Next() {
		var s model.VehicleStats
		if err := rows.Scan(&s.VehicleID, &s.Records, &s.MaxPassengers); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan crowd stats: %w", err)
		}
		stats = append(stats, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// single connection: the aggregate rows must be closed before these queries
	for i := range stats {
		last, err := r.latest(stats[i].VehicleID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			stats[i].LastPercentage = last.CapacityPercentage
			stats[i].LastUpdate = last.Timestamp
		}
	}

	return stats, nil
}

// DeleteBefore removes records older than cutoff and returns how many were deleted.
func (r *CrowdRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM crowd_records WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete crowd records: %w", err)
	}
	return result.RowsAffected()
}
