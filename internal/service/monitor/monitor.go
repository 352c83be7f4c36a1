// Package monitor runs the capture, detect and report loop for one vehicle camera.
package monitor

import (
	"context"
	"errors"
	"io"
	"time"

	"crowdwatch/internal/dto"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/model"
	"crowdwatch/internal/service/report"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// Frame is a single captured image owned by one loop iteration.
type Frame interface {
	Close() error
}

// Source yields frames until it returns io.EOF.
type Source[F Frame] interface {
	Read() (F, error)
	Close() error
}

// Detector finds people in a frame.
type Detector[F Frame] interface {
	Detect(frame F) ([]dto.DetectionResult, error)
}

// Display shows an annotated frame. Show reports whether the user asked to quit.
type Display[F Frame] interface {
	Show(frame F, detections []dto.DetectionResult, overlay Overlay) (bool, error)
	Close() error
}

// Reporter delivers one crowd update to the backend.
type Reporter interface {
	Send(ctx context.Context, update model.CrowdUpdate) (*model.UpdateAck, error)
}

// Options configures a Loop.
type Options struct {
	VehicleID string
	Threshold float64
	Interval  time.Duration
	Clock     clock.Clock // defaults to the wall clock
}

// State is the mutable detector state. VehicleID never changes.
type State struct {
	VehicleID   string
	FrameCount  int
	LastCount   int
	LastSend    time.Time
	SentUpdates int
	FailedSends int
}

// Loop reads, detects, reports and displays frames on a single goroutine.
type Loop[F Frame] struct {
	source   Source[F]
	detector Detector[F]
	display  Display[F]
	reporter Reporter
	logger   *logger.Logger
	clock    clock.Clock
	interval time.Duration
	minConf  float64
	state    State
}

// New creates a Loop. The loop owns source and display and closes both when Run returns.
func New[F Frame](source Source[F], detector Detector[F], display Display[F], reporter Reporter,
	logger *logger.Logger, opts Options) *Loop[F] {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Loop[F]{
		source:   source,
		detector: detector,
		display:  display,
		reporter: reporter,
		logger:   logger,
		clock:    clk,
		interval: opts.Interval,
		minConf:  opts.Threshold,
		state:    State{VehicleID: opts.VehicleID},
	}
}

// State returns a copy of the current detector state.
func (l *Loop[F]) State() State {
	return l.state
}

// Run processes frames until the stream ends, the user quits or ctx is cancelled.
// End of stream and read failures are not errors; only releasing resources can fail.
func (l *Loop[F]) Run(ctx context.Context) (err error) {
	defer func() {
		err = multierr.Append(err, l.release())
	}()

	l.logger.Info("📊 Starting crowd detection for vehicle %s (update every %s)", l.state.VehicleID, l.interval)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("⏹  Detection interrupted")
			return nil
		default:
		}

		frame, readErr := l.source.Read()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				l.logger.Warning("End of video stream")
			} else {
				l.logger.Warning("Cannot read frame: %v", readErr)
			}
			return nil
		}

		quit := l.process(ctx, frame)
		if closeErr := frame.Close(); closeErr != nil {
			l.logger.Warning("Failed to release frame %d: %v", l.state.FrameCount, closeErr)
		}
		if quit {
			l.logger.Info("⏹  Stopping detection...")
			return nil
		}
	}
}

// process handles one frame and reports whether the user asked to quit.
func (l *Loop[F]) process(ctx context.Context, frame F) bool {
	l.state.FrameCount++

	detections, err := l.detector.Detect(frame)
	if err != nil {
		l.logger.Warning("Detection failed on frame %d: %v", l.state.FrameCount, err)
		return false
	}

	people := dto.FilterAbove(detections, l.minConf)
	l.state.LastCount = len(people)

	sent := false
	if now := l.clock.Now(); l.due(now) {
		l.send(ctx, len(people), now)
		l.state.LastSend = now
		sent = true
	}

	quit, err := l.display.Show(frame, people, BuildOverlay(l.state.VehicleID, len(people), l.state.FrameCount, sent))
	if err != nil {
		l.logger.Warning("Failed to display frame %d: %v", l.state.FrameCount, err)
	}
	return quit
}

// due reports whether an update should be sent at now.
func (l *Loop[F]) due(now time.Time) bool {
	return l.state.LastSend.IsZero() || now.Sub(l.state.LastSend) >= l.interval
}

// send makes one best-effort attempt. Failed updates are dropped.
func (l *Loop[F]) send(ctx context.Context, count int, now time.Time) {
	update := model.CrowdUpdate{
		VehicleID:   l.state.VehicleID,
		PeopleCount: count,
		Timestamp:   now.Format(time.RFC3339),
	}

	resp, err := l.reporter.Send(ctx, update)
	if err == nil {
		l.state.SentUpdates++
		l.logger.Info("✅ Update sent: %d passengers | Crowd: %s%% | Time: %s", count, resp.Level(), update.Timestamp)
		return
	}

	l.state.FailedSends++
	var statusErr *report.StatusError
	switch {
	case errors.Is(err, report.ErrConnectionRefused):
		l.logger.Error("Connection Error: cannot reach backend, is the server running? (%v)", err)
	case errors.Is(err, report.ErrTimeout):
		l.logger.Error("Timeout: backend did not answer in time (%v)", err)
	case errors.As(err, &statusErr):
		l.logger.Error("Error: %d - %s", statusErr.StatusCode, statusErr.Body)
	default:
		l.logger.Error("Error sending update: %v", err)
	}
}

func (l *Loop[F]) release() error {
	err := multierr.Combine(l.source.Close(), l.display.Close())
	if err != nil {
		l.logger.Error("Cleanup failed: %v", err)
		return err
	}
	l.logger.Info("✅ Cleanup complete: %d frames, %d updates sent, %d failed",
		l.state.FrameCount, l.state.SentUpdates, l.state.FailedSends)
	return nil
}
