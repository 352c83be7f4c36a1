package route

import (
	"net/http"

	"crowdwatch/internal/handler"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/service"
)

// SetupRoutes registers the crowd API, the viewer websocket and the log endpoints.
func SetupRoutes(manager *service.Manager, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Crowd API
	mux.HandleFunc("POST /api/crowd/update", handler.UpdateCrowdHandler(manager, logger))
	mux.HandleFunc("GET /api/crowd/status", handler.CrowdStatusHandler(manager, logger))
	mux.HandleFunc("GET /api/crowd/history", handler.CrowdHistoryHandler(manager, logger))
	mux.HandleFunc("GET /api/crowd/ws", handler.ViewWebsocketHandler(manager, logger))

	// Log endpoints
	mux.HandleFunc("GET /logs/info", handler.ShowInfoLogsHandler(logger))
	mux.HandleFunc("GET /logs/warning", handler.ShowWarningLogsHandler(logger))
	mux.HandleFunc("GET /logs/error", handler.ShowErrorLogsHandler(logger))

	mux.HandleFunc("POST /logs/info/clear", handler.ClearInfoLogsHandler(logger))
	mux.HandleFunc("POST /logs/warning/clear", handler.ClearWarningLogsHandler(logger))
	mux.HandleFunc("POST /logs/error/clear", handler.ClearErrorLogsHandler(logger))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return mux
}
