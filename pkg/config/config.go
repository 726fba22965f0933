package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the gateway.
type Config struct {
	Port string

	// ZB credentials, shared by the spot and futures connections.
	ZBAPIKey    string
	ZBAPISecret string

	// Connection toggles
	EnableZBSpot    bool
	EnableZBFutures bool

	// Futures order mirroring over the event channel.
	MirrorOrders bool

	// Instruments
	InstrumentsPath string

	// Account snapshot polling
	SnapshotInterval time.Duration

	// REST pacing
	RequestsPerSecond int

	// Database
	DBPath string

	// Operator API auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		ZBAPIKey:          os.Getenv("ZB_API_KEY"),
		ZBAPISecret:       os.Getenv("ZB_API_SECRET"),
		EnableZBSpot:      getEnv("ENABLE_ZB_SPOT", "true") == "true",
		EnableZBFutures:   getEnv("ENABLE_ZB_FUTURES", "false") == "true",
		MirrorOrders:      getEnv("MIRROR_ORDERS", "true") == "true",
		InstrumentsPath:   getEnv("INSTRUMENTS_PATH", "./config/instruments.yaml"),
		SnapshotInterval:  getEnvDuration("SNAPSHOT_INTERVAL", time.Minute),
		RequestsPerSecond: getEnvInt("REQUESTS_PER_SECOND", 8),
		DBPath:            getEnv("DB_PATH", "./data/gateway.db"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
