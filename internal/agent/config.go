package agent

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"schoolbus-backend/internal/models"
)

// Config is the bus agent configuration, read from the environment
type Config struct {
	DBPath      string
	Port        string
	ServerURL   string
	DriverToken string
	SchoolID    string
	RouteID     *string
	TripID      *string
	School      models.SchoolLocation

	SyncInterval     time.Duration
	ProbeInterval    time.Duration
	HTTPTimeout      time.Duration
	PositionMaxAge   time.Duration
	RetryInitial     time.Duration
	RetryMaxInterval time.Duration
}

// LoadConfig reads the agent settings. SCHOOL_ID and the school
// coordinates are required because every route ends at the school.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DBPath:      getEnv("AGENT_DB_PATH", "./bus-agent.db"),
		Port:        getEnv("AGENT_PORT", "8090"),
		ServerURL:   getEnv("SERVER_URL", "http://localhost:8080"),
		DriverToken: os.Getenv("DRIVER_TOKEN"),
		SchoolID:    os.Getenv("SCHOOL_ID"),
		RouteID:     optionalEnv("ROUTE_ID"),
		TripID:      optionalEnv("TRIP_ID"),
	}

	if cfg.SchoolID == "" {
		return nil, fmt.Errorf("SCHOOL_ID environment variable is required")
	}

	var err error
	if cfg.School.Latitude, err = requiredFloat("SCHOOL_LAT"); err != nil {
		return nil, err
	}
	if cfg.School.Longitude, err = requiredFloat("SCHOOL_LNG"); err != nil {
		return nil, err
	}
	cfg.School.ID = cfg.SchoolID

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SYNC_INTERVAL", 30 * time.Second, &cfg.SyncInterval},
		{"CONNECTIVITY_PROBE_INTERVAL", 10 * time.Second, &cfg.ProbeInterval},
		{"HTTP_TIMEOUT", 15 * time.Second, &cfg.HTTPTimeout},
		{"POSITION_MAX_AGE", 2 * time.Minute, &cfg.PositionMaxAge},
		{"SYNC_RETRY_INITIAL", 2 * time.Second, &cfg.RetryInitial},
		{"SYNC_RETRY_MAX", 5 * time.Minute, &cfg.RetryMaxInterval},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key, d.fallback); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func optionalEnv(key string) *string {
	if v := os.Getenv(key); v != "" {
		return &v
	}
	return nil
}

func requiredFloat(key string) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s environment variable is required", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
