package route

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crowdwatch/internal/config"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/model"
	"crowdwatch/internal/repository/sqlite"
	"crowdwatch/internal/service"
	"crowdwatch/internal/service/storage"
	"crowdwatch/internal/service/websocket"

	gorilla "github.com/gorilla/websocket"
)

type testServer struct {
	server *httptest.Server
	logDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		BusCapacity:   50,
		BufferLimit:   100,
		FlushInterval: time.Minute,
		LogDirectory:  filepath.Join(dir, "logs"),
	}

	db, err := sqlite.New(filepath.Join(dir, "crowd.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	log := logger.NewLogger(cfg)
	repo := sqlite.NewCrowdRepository(db)
	hub := websocket.NewHubService(log)
	manager := service.NewManager(storage.NewBufferService(cfg, log, repo), hub, repo, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(SetupRoutes(manager, log))
	t.Cleanup(func() {
		server.Close()
		cancel()
		db.Close()
	})
	return &testServer{server: server, logDir: cfg.LogDirectory}
}

func (s *testServer) post(t *testing.T, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(s.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (s *testServer) get(t *testing.T, path string, into interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(s.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("Decoding %s failed: %v", path, err)
		}
	}
	return resp
}

func TestUpdate_Success(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.post(t, "/api/crowd/update", `{"vehicle_id":"21G","people_count":12,"timestamp":"2026-03-01T08:00:00Z"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, expected 200", resp.StatusCode)
	}
	if body["success"] != true || body["crowdLevel"] != float64(24) {
		t.Errorf("Unexpected body %v", body)
	}
	data, ok := body["data"].(map[string]interface{})
	if !ok || data["vehicle_id"] != "21G" || data["passenger_count"] != float64(12) {
		t.Errorf("Unexpected data %v", body["data"])
	}
}

func TestUpdate_MissingVehicleID(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.post(t, "/api/crowd/update", `{"people_count":3}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Status = %d, expected 400", resp.StatusCode)
	}
	if body["error"] != "Missing vehicle_id" {
		t.Errorf("Unexpected error body %v", body)
	}
}

func TestUpdate_RejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{`{"vehicle_id":"21G","people_count":-4}`, `not json`} {
		resp, _ := s.post(t, "/api/crowd/update", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Body %q: status = %d, expected 400", body, resp.StatusCode)
		}
	}
}

func TestUpdate_WrongMethod(t *testing.T) {
	s := newTestServer(t)

	resp := s.get(t, "/api/crowd/update", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, expected 405", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)
	s.post(t, "/api/crowd/update", `{"vehicle_id":"27C","people_count":30}`)

	var status model.CrowdStatus
	s.get(t, "/api/crowd/status?id=27C", &status)
	if status.Passengers != 30 || status.CapacityPercentage != 60 {
		t.Errorf("Unexpected status %+v", status)
	}

	var empty model.CrowdStatus
	s.get(t, "/api/crowd/status", &empty)
	if empty.Passengers != 0 || empty.LastUpdate.IsZero() {
		t.Errorf("Expected zeros with a timestamp for the default vehicle, got %+v", empty)
	}
}

func TestHistory(t *testing.T) {
	s := newTestServer(t)
	for i, ts := range []string{"2026-03-01T08:00:00Z", "2026-03-01T08:00:05Z", "2026-03-01T08:00:10Z"} {
		s.post(t, "/api/crowd/update", `{"vehicle_id":"21G","people_count":`+string(rune('1'+i))+`,"timestamp":"`+ts+`"}`)
	}

	var history struct {
		VehicleID string              `json:"vehicle_id"`
		Records   []model.CrowdRecord `json:"records"`
	}
	s.get(t, "/api/crowd/history?id=21G&limit=2", &history)

	if history.VehicleID != "21G" || len(history.Records) != 2 {
		t.Fatalf("Unexpected history %+v", history)
	}
	if history.Records[0].PassengerCount != 3 {
		t.Errorf("Expected newest record first, got %+v", history.Records[0])
	}
}

func TestWebsocketReceivesUpdates(t *testing.T) {
	s := newTestServer(t)

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/crowd/ws?id=21G"
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// registration is asynchronous; keep posting until the viewer sees one
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	received := make(chan []byte, 1)
	go func() {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		s.post(t, "/api/crowd/update", `{"vehicle_id":"21G","people_count":9}`)
		select {
		case msg := <-received:
			var record model.CrowdRecord
			if err := json.Unmarshal(msg, &record); err != nil {
				t.Fatalf("Invalid broadcast %s: %v", msg, err)
			}
			if record.VehicleID != "21G" || record.PassengerCount != 9 {
				t.Errorf("Unexpected broadcast %+v", record)
			}
			return
		case <-deadline:
			t.Fatal("Viewer never received an update")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestLogs(t *testing.T) {
	s := newTestServer(t)
	s.post(t, "/api/crowd/update", `{"vehicle_id":"21G","people_count":1}`)

	resp, err := http.Get(s.server.URL + "/logs/info")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(buf.String(), "Updated 21G") {
		t.Fatalf("Unexpected info log (%d): %s", resp.StatusCode, buf.String())
	}

	clear, err := http.Post(s.server.URL+"/logs/warning/clear", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	clear.Body.Close()
	if clear.StatusCode != http.StatusNoContent {
		t.Errorf("Clear status = %d, expected 204", clear.StatusCode)
	}

	info, _ := os.Stat(filepath.Join(s.logDir, "warning.log"))
	if info == nil || info.Size() != 0 {
		t.Errorf("warning.log should be empty after clear")
	}
}
