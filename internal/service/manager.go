package service

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"crowdwatch/internal/config"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/model"
	"crowdwatch/internal/repository"
	"crowdwatch/internal/service/storage"
	"crowdwatch/internal/service/websocket"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	// DefaultVehicleID is reported when a status request names no vehicle.
	DefaultVehicleID = "12A"
	// DefaultBusCapacity is the passenger count that means 100%.
	DefaultBusCapacity = 50
	// DetectionSource marks records produced by a camera detector.
	DetectionSource = "CAMERA"
)

var (
	ErrMissingVehicleID = errors.New("missing vehicle_id")
	ErrNegativeCount    = errors.New("people_count must not be negative")
)

// Manager accepts crowd updates and keeps the latest value per vehicle in memory.
// Accepted records are buffered for the database and pushed to websocket viewers.
type Manager struct {
	bufferService    *storage.BufferService
	websocketService *websocket.HubService
	crowdRepo        repository.CrowdRepository
	logger           *logger.Logger
	capacity         int
	clock            clock.Clock

	latest   map[string]model.CrowdRecord
	latestMu sync.RWMutex
}

func NewManager(bufferService *storage.BufferService, websocketService *websocket.HubService, crowdRepo repository.CrowdRepository, config *config.Config, logger *logger.Logger) *Manager {
	capacity := config.BusCapacity
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}

	return &Manager{
		bufferService:    bufferService,
		websocketService: websocketService,
		crowdRepo:        crowdRepo,
		logger:           logger,
		capacity:         capacity,
		clock:            clock.New(),
		latest:           make(map[string]model.CrowdRecord),
	}
}

// WithClock replaces the time source, used by tests.
func (m *Manager) WithClock(c clock.Clock) *Manager {
	m.clock = c
	return m
}

// CapacityPercentage converts a passenger count to a share of the bus capacity, uncapped.
func CapacityPercentage(count, capacity int) int {
	return int(math.Round(float64(count) / float64(capacity) * 100))
}

// CrowdLevel is CapacityPercentage capped at 100.
func CrowdLevel(count, capacity int) int {
	return min(CapacityPercentage(count, capacity), 100)
}

// Update records a detector report and returns the reply for the detector.
func (m *Manager) Update(update model.CrowdUpdate) (*model.UpdateResponse, error) {
	if update.VehicleID == "" {
		return nil, ErrMissingVehicleID
	}
	if update.PeopleCount < 0 {
		return nil, ErrNegativeCount
	}

	timestamp, err := time.Parse(time.RFC3339, update.Timestamp)
	if err != nil {
		timestamp = m.clock.Now()
	}

	record := model.CrowdRecord{
		ID:                 uuid.NewString(),
		VehicleID:          update.VehicleID,
		PassengerCount:     update.PeopleCount,
		CapacityPercentage: CapacityPercentage(update.PeopleCount, m.capacity),
		Source:             DetectionSource,
		Timestamp:          timestamp,
	}

	// storage failures are retried by the buffer; the update itself is accepted
	m.bufferService.Add(record)

	m.latestMu.Lock()
	m.latest[record.VehicleID] = record
	m.latestMu.Unlock()

	m.logger.Info("[DATA] Updated %s: %d passengers (%d%%)", record.VehicleID, record.PassengerCount, record.CapacityPercentage)
	m.SendToViewers(record)

	return &model.UpdateResponse{
		Success:    true,
		CrowdLevel: CrowdLevel(update.PeopleCount, m.capacity),
		Data:       &record,
	}, nil
}

// SendToViewers broadcasts a record as JSON to subscribed viewers.
func (m *Manager) SendToViewers(record model.CrowdRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		m.logger.Error("Error encoding crowd record: %v", err)
		return
	}
	m.websocketService.Broadcast(payload, record.VehicleID)
}

// Status returns the latest known occupancy: memory first, then the database, else zeros.
func (m *Manager) Status(vehicleID string) (model.CrowdStatus, error) {
	if vehicleID == "" {
		vehicleID = DefaultVehicleID
	}

	m.latestMu.RLock()
	record, ok := m.latest[vehicleID]
	m.latestMu.RUnlock()
	if ok {
		return record.Status(), nil
	}

	stored, err := m.crowdRepo.Latest(vehicleID)
	if err != nil {
		return model.CrowdStatus{LastUpdate: m.clock.Now()}, err
	}
	if stored == nil {
		return model.CrowdStatus{LastUpdate: m.clock.Now()}, nil
	}
	return stored.Status(), nil
}

// History returns stored records of a vehicle, newest first. Buffered records are flushed first.
func (m *Manager) History(vehicleID string, limit int) ([]model.CrowdRecord, error) {
	if err := m.bufferService.Flush(); err != nil {
		m.logger.Warning("History served without pending records: %v", err)
	}
	return m.crowdRepo.History(vehicleID, limit)
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.websocketService
}
