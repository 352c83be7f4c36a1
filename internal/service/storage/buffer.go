package storage

import (
	"context"
	"sync"
	"time"

	"crowdwatch/internal/config"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/model"
	"crowdwatch/internal/repository"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultBufferLimit limits how many records per vehicle are buffered before flushing.
	DefaultBufferLimit = 20
	// DefaultFlushInterval defines how often buffered records are written to the database.
	DefaultFlushInterval = 5 * time.Second
	// pendingFactor times the per-vehicle limit bounds the whole buffer while the database is unavailable.
	pendingFactor = 10
)

// BufferService buffers crowd records in memory and periodically writes them in one batch.
type BufferService struct {
	records     []model.CrowdRecord
	bufferCount map[string]int
	limit       int
	maxPending  int
	dropped     int
	interval    time.Duration
	mu          sync.Mutex
	logger      *logger.Logger
	crowdRepo   repository.CrowdRepository
	clock       clock.Clock
}

// NewBufferService creates a BufferService writing to crowdRepo.
func NewBufferService(config *config.Config, logger *logger.Logger, crowdRepo repository.CrowdRepository) *BufferService {
	limit := config.BufferLimit
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	interval := config.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	return &BufferService{
		records:     make([]model.CrowdRecord, 0),
		bufferCount: make(map[string]int),
		limit:       limit,
		maxPending:  limit * pendingFactor,
		interval:    interval,
		logger:      logger,
		crowdRepo:   crowdRepo,
		clock:       clock.New(),
	}
}

// WithClock replaces the ticker source, used by tests.
func (s *BufferService) WithClock(c clock.Clock) *BufferService {
	s.clock = c
	return s
}

// Run flushes on every tick until ctx is cancelled, then flushes what is left.
func (s *BufferService) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				s.logger.Error("Final flush failed: %v", err)
			}
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.logger.Error("Error flushing crowd records: %v", err)
			}
		}
	}
}

// Add appends a record to the buffer. A vehicle reaching the limit triggers a flush.
// Add always accepts the record: a failed flush is logged and retried later, and
// once the buffer is full the oldest records are dropped.
func (s *BufferService) Add(record model.CrowdRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= s.maxPending {
		oldest := s.records[0]
		s.records = s.records[1:]
		s.dropped++
		s.logger.Warning("Buffer full (%d records), dropped oldest record of vehicle %s", s.maxPending, oldest.VehicleID)
	}
	s.records = append(s.records, record)
	s.bufferCount[record.VehicleID]++

	if s.bufferCount[record.VehicleID] < s.limit {
		return
	}

	s.logger.Info("Buffer full for vehicle %s (%d records), flushing", record.VehicleID, s.limit)
	if err := s.flushLocked(); err != nil {
		s.logger.Error("Error flushing crowd records: %v", err)
		// next attempt after another limit's worth of records or the next tick
		s.bufferCount = make(map[string]int)
	}
}

// Dropped returns how many records were discarded because the buffer was full.
func (s *BufferService) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Pending returns the number of buffered records.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Flush writes buffered records in one transaction. On failure the records stay buffered.
func (s *BufferService) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *BufferService) flushLocked() error {
	if len(s.records) == 0 {
		return nil
	}

	if err := s.crowdRepo.InsertBatch(s.records); err != nil {
		return err
	}

	s.logger.Info("Flushed %d crowd records to database", len(s.records))
	s.records = make([]model.CrowdRecord, 0, len(s.records))
	s.bufferCount = make(map[string]int)
	return nil
}
