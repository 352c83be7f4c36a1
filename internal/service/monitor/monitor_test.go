package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"crowdwatch/internal/dto"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/model"
	"crowdwatch/internal/service/report"

	"github.com/benbjohnson/clock"
)

// ========================================
// Fakes
// ========================================

type fakeFrame struct {
	index  int
	closed bool
}

func (f *fakeFrame) Close() error {
	f.closed = true
	return nil
}

// fakeSource yields n frames, advancing the mock clock by step before each one.
type fakeSource struct {
	frames     []*fakeFrame
	next       int
	clock      *clock.Mock
	step       time.Duration
	readErr    error
	closeCalls int
}

func newFakeSource(n int, clk *clock.Mock, step time.Duration) *fakeSource {
	s := &fakeSource{clock: clk, step: step}
	for i := 0; i < n; i++ {
		s.frames = append(s.frames, &fakeFrame{index: i})
	}
	return s
}

func (s *fakeSource) Read() (*fakeFrame, error) {
	if s.next >= len(s.frames) {
		if s.readErr != nil {
			return nil, s.readErr
		}
		return nil, io.EOF
	}
	s.clock.Add(s.step)
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *fakeSource) Close() error {
	s.closeCalls++
	return nil
}

// fakeDetector reports counts[i] confident people on frame i, plus one low-confidence box.
type fakeDetector struct {
	counts []int
	failOn map[int]bool
}

func (d *fakeDetector) Detect(frame *fakeFrame) ([]dto.DetectionResult, error) {
	if d.failOn[frame.index] {
		return nil, errors.New("inference failed")
	}
	var results []dto.DetectionResult
	for i := 0; i < d.counts[frame.index%len(d.counts)]; i++ {
		results = append(results, dto.DetectionResult{Label: "person", Confidence: 0.9, X: i * 10, Width: 5, Height: 5})
	}
	results = append(results, dto.DetectionResult{Label: "person", Confidence: 0.2})
	return results, nil
}

type fakeDisplay struct {
	overlays   []Overlay
	boxes      []int
	quitAfter  int
	closeCalls int
}

func (d *fakeDisplay) Show(_ *fakeFrame, detections []dto.DetectionResult, overlay Overlay) (bool, error) {
	d.overlays = append(d.overlays, overlay)
	d.boxes = append(d.boxes, len(detections))
	return d.quitAfter > 0 && len(d.overlays) >= d.quitAfter, nil
}

func (d *fakeDisplay) Close() error {
	d.closeCalls++
	return nil
}

type sendCall struct {
	update model.CrowdUpdate
	at     time.Time
}

type fakeReporter struct {
	clock   *clock.Mock
	calls   []sendCall
	err     func(n int) error
	noLevel bool
}

func (r *fakeReporter) Send(_ context.Context, update model.CrowdUpdate) (*model.UpdateAck, error) {
	r.calls = append(r.calls, sendCall{update: update, at: r.clock.Now()})
	if r.err != nil {
		if err := r.err(len(r.calls)); err != nil {
			return nil, err
		}
	}
	if r.noLevel {
		return &model.UpdateAck{}, nil
	}
	level := float64(update.PeopleCount * 2)
	return &model.UpdateAck{CrowdLevel: &level}, nil
}

type harness struct {
	clock    *clock.Mock
	source   *fakeSource
	detector *fakeDetector
	display  *fakeDisplay
	reporter *fakeReporter
	logs     *bytes.Buffer
	loop     *Loop[*fakeFrame]
}

func newHarness(frames int, counts []int, interval time.Duration) *harness {
	clk := clock.NewMock()
	h := &harness{
		clock:    clk,
		source:   newFakeSource(frames, clk, time.Second),
		detector: &fakeDetector{counts: counts},
		display:  &fakeDisplay{},
		reporter: &fakeReporter{clock: clk},
		logs:     &bytes.Buffer{},
	}
	h.loop = New[*fakeFrame](h.source, h.detector, h.display, h.reporter, logger.NewWriterLogger(h.logs), Options{
		VehicleID: "21G",
		Threshold: 0.5,
		Interval:  interval,
		Clock:     clk,
	})
	return h
}

func overlayLine(o Overlay, prefix string) string {
	for _, line := range o.Text() {
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	return ""
}

// ========================================
// Loop Tests
// ========================================

func TestRun_OverlayMatchesDetectorCount(t *testing.T) {
	counts := []int{0, 3, 7, 1, 12}
	h := newHarness(len(counts), counts, 5*time.Second)

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(h.display.overlays) != len(counts) {
		t.Fatalf("Expected %d displayed frames, got %d", len(counts), len(h.display.overlays))
	}
	for i, count := range counts {
		want := fmt.Sprintf("Passengers: %d", count)
		if got := overlayLine(h.display.overlays[i], "Passengers:"); got != want {
			t.Errorf("Frame %d: overlay %q, expected %q", i, got, want)
		}
		if got := overlayLine(h.display.overlays[i], "Frame:"); got != fmt.Sprintf("Frame: %d", i+1) {
			t.Errorf("Frame %d: frame line %q", i, got)
		}
		if h.display.boxes[i] != count {
			t.Errorf("Frame %d: %d boxes passed to display, expected %d", i, h.display.boxes[i], count)
		}
	}
}

func TestRun_RespectsSendInterval(t *testing.T) {
	h := newHarness(12, []int{4}, 5*time.Second)

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// One frame per second: sends at t=1s, 6s and 11s.
	if len(h.reporter.calls) != 3 {
		t.Fatalf("Expected 3 sends, got %d", len(h.reporter.calls))
	}
	for i := 1; i < len(h.reporter.calls); i++ {
		gap := h.reporter.calls[i].at.Sub(h.reporter.calls[i-1].at)
		if gap < 5*time.Second {
			t.Errorf("Send %d came %v after the previous one, interval is 5s", i, gap)
		}
	}

	sentMarks := 0
	for _, o := range h.display.overlays {
		if overlayLine(o, "UPDATE SENT") != "" {
			sentMarks++
		}
	}
	if sentMarks != 3 {
		t.Errorf("Expected 3 frames marked UPDATE SENT, got %d", sentMarks)
	}

	first := h.reporter.calls[0].update
	if first.VehicleID != "21G" || first.PeopleCount != 4 {
		t.Errorf("Unexpected payload: %+v", first)
	}
	if _, err := time.Parse(time.RFC3339, first.Timestamp); err != nil {
		t.Errorf("Timestamp %q is not RFC3339: %v", first.Timestamp, err)
	}
}

func TestRun_LogsReportedCrowdLevel(t *testing.T) {
	h := newHarness(1, []int{6}, time.Second)

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(h.logs.String(), "Update sent: 6 passengers | Crowd: 12%") {
		t.Errorf("Expected crowd level in log, got:\n%s", h.logs.String())
	}
}

func TestRun_MissingCrowdLevelIsStillSuccess(t *testing.T) {
	h := newHarness(1, []int{6}, time.Second)
	h.reporter.noLevel = true

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(h.logs.String(), "Crowd: N/A%") {
		t.Errorf("Expected N/A crowd level, got:\n%s", h.logs.String())
	}
	if state := h.loop.State(); state.SentUpdates != 1 || state.FailedSends != 0 {
		t.Errorf("Unexpected counters: %+v", state)
	}
}

func TestRun_FailedAttemptStillResetsInterval(t *testing.T) {
	h := newHarness(8, []int{2}, 3*time.Second)
	h.reporter.err = func(n int) error {
		return &report.StatusError{StatusCode: 503, Body: "busy"}
	}

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// Attempts at t=1s, 4s and 7s regardless of failures.
	if len(h.reporter.calls) != 3 {
		t.Errorf("Expected 3 attempts, got %d", len(h.reporter.calls))
	}
	if state := h.loop.State(); state.FailedSends != 3 || state.SentUpdates != 0 {
		t.Errorf("Unexpected counters: %+v", state)
	}
}

func TestRun_NonOKResponseDoesNotStopLoop(t *testing.T) {
	h := newHarness(6, []int{5}, time.Second)
	h.reporter.err = func(n int) error {
		if n == 1 {
			return &report.StatusError{StatusCode: 500, Body: `{"error":"Failed to update crowd data"}`}
		}
		return nil
	}

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got := h.loop.State().FrameCount; got != 6 {
		t.Errorf("Expected all 6 frames processed, got %d", got)
	}
	if !strings.Contains(h.logs.String(), "Error: 500") {
		t.Errorf("Expected status error in logs:\n%s", h.logs.String())
	}
	if state := h.loop.State(); state.SentUpdates != 5 || state.FailedSends != 1 {
		t.Errorf("Unexpected counters: %+v", state)
	}
}

func TestRun_ConnectionErrorLoggedAndLoopContinues(t *testing.T) {
	h := newHarness(4, []int{1}, time.Second)
	h.reporter.err = func(n int) error {
		return fmt.Errorf("%w: dial tcp 127.0.0.1:3000", report.ErrConnectionRefused)
	}

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(h.display.overlays) != 4 {
		t.Errorf("Expected 4 frames displayed after connection errors, got %d", len(h.display.overlays))
	}
	if got := strings.Count(h.logs.String(), "Connection Error"); got != 4 {
		t.Errorf("Expected 4 connection error entries, got %d:\n%s", got, h.logs.String())
	}
}

func TestRun_TimeoutLoggedAsTimeout(t *testing.T) {
	h := newHarness(1, []int{1}, time.Second)
	h.reporter.err = func(n int) error {
		return fmt.Errorf("%w: context deadline exceeded", report.ErrTimeout)
	}

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(h.logs.String(), "Timeout") {
		t.Errorf("Expected timeout entry in logs:\n%s", h.logs.String())
	}
}

func TestRun_StreamExhaustionReleasesCapture(t *testing.T) {
	h := newHarness(3, []int{2}, time.Second)

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if h.source.closeCalls != 1 {
		t.Errorf("Expected capture released once, got %d", h.source.closeCalls)
	}
	if h.display.closeCalls != 1 {
		t.Errorf("Expected display closed once, got %d", h.display.closeCalls)
	}
	for _, f := range h.source.frames {
		if !f.closed {
			t.Errorf("Frame %d was not released", f.index)
		}
	}
}

func TestRun_ReadErrorEndsGracefully(t *testing.T) {
	h := newHarness(2, []int{1}, time.Second)
	h.source.readErr = errors.New("device unplugged")

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if h.source.closeCalls != 1 {
		t.Errorf("Expected capture released once, got %d", h.source.closeCalls)
	}
	if !strings.Contains(h.logs.String(), "device unplugged") {
		t.Errorf("Expected read error in logs:\n%s", h.logs.String())
	}
}

func TestRun_QuitKeyStopsLoop(t *testing.T) {
	h := newHarness(10, []int{1}, time.Second)
	h.display.quitAfter = 3

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if h.source.next != 3 {
		t.Errorf("Expected 3 frames read before quit, got %d", h.source.next)
	}
	if h.source.closeCalls != 1 {
		t.Errorf("Expected capture released once, got %d", h.source.closeCalls)
	}
}

func TestRun_CancelledContextStopsLoop(t *testing.T) {
	h := newHarness(10, []int{1}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	h.reporter.err = func(n int) error {
		cancel()
		return nil
	}

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if h.source.next != 1 {
		t.Errorf("Expected loop to stop after the interrupted frame, read %d", h.source.next)
	}
	if h.source.closeCalls != 1 || h.display.closeCalls != 1 {
		t.Errorf("Expected resources released once, got source=%d display=%d", h.source.closeCalls, h.display.closeCalls)
	}
}

func TestRun_DetectionErrorSkipsFrame(t *testing.T) {
	h := newHarness(3, []int{2}, time.Second)
	h.detector.failOn = map[int]bool{0: true}

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(h.display.overlays) != 2 {
		t.Errorf("Expected 2 displayed frames, got %d", len(h.display.overlays))
	}
	if got := overlayLine(h.display.overlays[0], "Frame:"); got != "Frame: 2" {
		t.Errorf("Expected failed frame to still be counted, got %q", got)
	}
	if len(h.reporter.calls) != 2 {
		t.Errorf("Expected 2 sends, got %d", len(h.reporter.calls))
	}
}

// ========================================
// Overlay Tests
// ========================================

func TestBuildOverlay(t *testing.T) {
	o := BuildOverlay("27C", 9, 42, false)
	want := []string{"Vehicle: 27C", "Passengers: 9", "Frame: 42"}
	got := o.Text()
	if len(got) != len(want) {
		t.Fatalf("Overlay = %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Line %d = %q, expected %q", i, got[i], want[i])
		}
	}

	sent := BuildOverlay("27C", 9, 42, true).Text()
	if sent[len(sent)-1] != "UPDATE SENT" {
		t.Errorf("Expected UPDATE SENT as last line, got %v", sent)
	}
}

func TestProgressDisplay(t *testing.T) {
	var buf bytes.Buffer
	display := NewProgressDisplay[*fakeFrame]("21G", 2, &buf)

	for i := 0; i < 2; i++ {
		quit, err := display.Show(&fakeFrame{index: i}, nil, BuildOverlay("21G", 3, i+1, false))
		if err != nil {
			t.Fatalf("Show failed: %v", err)
		}
		if quit {
			t.Error("Progress display must never ask to quit")
		}
	}
	if err := display.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Passengers: 3") {
		t.Errorf("Expected passenger count in progress output, got %q", buf.String())
	}
}
