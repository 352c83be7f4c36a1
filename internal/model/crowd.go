package model

import (
	"strconv"
	"time"
)

// CrowdUpdate is the payload a detector sends for one vehicle.
type CrowdUpdate struct {
	VehicleID   string `json:"vehicle_id"`
	PeopleCount int    `json:"people_count"`
	Timestamp   string `json:"timestamp"`
}

// UpdateResponse is the backend reply to an accepted CrowdUpdate.
type UpdateResponse struct {
	Success    bool         `json:"success"`
	CrowdLevel int          `json:"crowdLevel"`
	Data       *CrowdRecord `json:"data,omitempty"`
}

// UpdateAck is what a detector reads from a 200 reply. Only crowdLevel is
// looked at; backends differ in everything else they return.
type UpdateAck struct {
	CrowdLevel *float64 `json:"crowdLevel"`
}

// Level formats the reported crowd level, or "N/A" when the backend sent none.
func (a *UpdateAck) Level() string {
	if a == nil || a.CrowdLevel == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*a.CrowdLevel, 'f', -1, 64)
}

// CrowdRecord represents one stored crowd measurement.
type CrowdRecord struct {
	ID                 string    `json:"id"`
	VehicleID          string    `json:"vehicle_id"`
	PassengerCount     int       `json:"passenger_count"`
	CapacityPercentage int       `json:"capacity_percentage"`
	Source             string    `json:"detection_source"`
	Timestamp          time.Time `json:"timestamp"`
}

// CrowdStatus is the latest known occupancy of a vehicle.
type CrowdStatus struct {
	Passengers         int       `json:"passengers"`
	CapacityPercentage int       `json:"capacityPercentage"`
	LastUpdate         time.Time `json:"lastUpdate"`
}

// VehicleStats summarizes stored records for one vehicle.
type VehicleStats struct {
	VehicleID      string    `json:"vehicle_id"`
	Records        int       `json:"records"`
	MaxPassengers  int       `json:"max_passengers"`
	LastPercentage int       `json:"last_percentage"`
	LastUpdate     time.Time `json:"last_update"`
}

// Status converts a stored record to the status view.
func (r *CrowdRecord) Status() CrowdStatus {
	return CrowdStatus{
		Passengers:         r.PassengerCount,
		CapacityPercentage: r.CapacityPercentage,
		LastUpdate:         r.Timestamp,
	}
}
