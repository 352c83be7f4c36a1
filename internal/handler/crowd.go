package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"crowdwatch/internal/logger"
	"crowdwatch/internal/model"
	"crowdwatch/internal/service"
)

const (
	maxUpdateBody       = 1 << 16
	defaultHistoryLimit = 50
)

// UpdateCrowdHandler accepts a detector report for one vehicle.
func UpdateCrowdHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update model.CrowdUpdate
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBody)).Decode(&update); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
			return
		}

		resp, err := manager.Update(update)
		switch {
		case errors.Is(err, service.ErrMissingVehicleID):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing vehicle_id"})
		case errors.Is(err, service.ErrNegativeCount):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "people_count must not be negative"})
		case err != nil:
			logger.Error("Error updating crowd data: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to update crowd data"})
		default:
			writeJSON(w, http.StatusOK, resp)
		}
	}
}

// CrowdStatusHandler returns the latest occupancy of ?id= (default 12A).
func CrowdStatusHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := manager.Status(r.URL.Query().Get("id"))
		if err != nil {
			// viewers poll this endpoint; they get zeros rather than an error
			logger.Error("Error fetching crowd status: %v", err)
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// CrowdHistoryHandler returns stored records of ?id=, newest first, at most ?limit=.
func CrowdHistoryHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		vehicleID := q.Get("id")
		if vehicleID == "" {
			vehicleID = service.DefaultVehicleID
		}

		records, err := manager.History(vehicleID, atoiDefault(q.Get("limit"), defaultHistoryLimit))
		if err != nil {
			logger.Error("Error fetching crowd history: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"vehicle_id": vehicleID,
			"records":    records,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
