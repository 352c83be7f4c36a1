package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Detector
	APIURL              string
	VideoSource         string
	ModelPath           string
	ModelConfigPath     string // only for non-ONNX graphs
	ConfidenceThreshold float64
	NMSThreshold        float64
	UpdateInterval      time.Duration
	RequestTimeout      time.Duration

	// Backend
	Port          int
	DatabasePath  string
	BusCapacity   int
	BufferLimit   int
	FlushInterval time.Duration

	LogDirectory string // empty means console only
}

// Load reads an optional .env file and builds the configuration from the environment.
func Load() *Config {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	return &Config{
		APIURL:              getEnv("TRACKO_API_URL", "http://localhost:3000/api/crowd/update"),
		VideoSource:         getEnv("VIDEO_SOURCE", "0"),
		ModelPath:           getEnv("MODEL_PATH", "yolov8n.onnx"),
		ModelConfigPath:     os.Getenv("MODEL_CONFIG"),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		NMSThreshold:        getEnvAsFloat("NMS_THRESHOLD", 0.45),
		UpdateInterval:      getEnvAsSeconds("UPDATE_INTERVAL", 5),
		RequestTimeout:      getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Second),

		Port:          getEnvAsInt("PORT", 3000),
		DatabasePath:  getEnv("DB_PATH", filepath.Join(".", "data", "crowd.db")),
		BusCapacity:   getEnvAsInt("BUS_CAPACITY", 50),
		BufferLimit:   getEnvAsInt("BUFFER_LIMIT", 20),
		FlushInterval: getEnvAsSeconds("FLUSH_INTERVAL", 5),

		LogDirectory: os.Getenv("LOG_DIR"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsSeconds reads a whole number of seconds.
func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
