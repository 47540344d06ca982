package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	RouteServerURL         string
	NameSearchServerURL    string
	NearestSearchServerURL string
	ServerTimeout          time.Duration
	MatchLimit             int

	MapMaxZoom     int
	RouteFrameZoom int
	MapDefaultLat  float64
	MapDefaultLon  float64
	MapDefaultZoom int
	TimeZone       *time.Location

	SessionIdleAfter time.Duration

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string
}

// Load reads the configuration from the environment. Variables from an
// optional .env file in the working directory never override ones already
// set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	tzName := getEnv("TIME_ZONE", "Europe/Berlin")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", tzName, err)
	}

	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		RouteServerURL:         getEnv("ROUTE_SERVER_URL", "http://localhost:2845/route"),
		NameSearchServerURL:    getEnv("NAME_SEARCH_SERVER_URL", "http://localhost:2846/namesearch"),
		NearestSearchServerURL: getEnv("NEAREST_SEARCH_SERVER_URL", "http://localhost:2847/nearestsearch"),
		ServerTimeout:          getDurationEnv("SERVER_TIMEOUT", 30*time.Second),
		MatchLimit:             getIntEnv("MATCH_LIMIT", 5),

		MapMaxZoom:     getIntEnv("MAP_MAX_ZOOM", 20),
		RouteFrameZoom: getIntEnv("ROUTE_FRAME_ZOOM", 17),
		MapDefaultLat:  getFloatEnv("MAP_DEFAULT_LAT", 49.23299),
		MapDefaultLon:  getFloatEnv("MAP_DEFAULT_LON", 6.97633),
		MapDefaultZoom: getIntEnv("MAP_DEFAULT_ZOOM", 6),
		TimeZone:       tz,

		SessionIdleAfter: getDurationEnv("SESSION_IDLE_AFTER", 30*time.Minute),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDurationEnv("CACHE_TTL", 10*time.Minute),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}

	if cfg.MatchLimit <= 0 {
		return nil, fmt.Errorf("MATCH_LIMIT must be positive, got %d", cfg.MatchLimit)
	}
	if cfg.ServerTimeout <= 0 {
		return nil, fmt.Errorf("SERVER_TIMEOUT must be positive, got %s", cfg.ServerTimeout)
	}
	if cfg.SessionIdleAfter < time.Second {
		return nil, fmt.Errorf("SESSION_IDLE_AFTER must be at least 1s, got %s", cfg.SessionIdleAfter)
	}
	if cfg.RateLimitWindow < time.Second {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s, got %s", cfg.RateLimitWindow)
	}
	if cfg.RateLimitPerWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_WINDOW must be positive, got %d", cfg.RateLimitPerWindow)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
