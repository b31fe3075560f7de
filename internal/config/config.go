package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BackendURL is the backend base URL. It is fixed at build time with
// -ldflags "-X github.com/dgnsrekt/sportscaster/internal/config.BackendURL=..."
// and has no runtime override.
var BackendURL = "http://localhost:8000"

// Config holds all configuration for the commentator.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Chrome launcher
	LaunchBrowser bool
	BrowserPath   string
	ProfileDir    string
	Headless      bool

	// Control API
	BindAddr      string
	BindFallbacks []string
	BindAuto      bool
	CORSOrigins   []string

	// Logging
	LogLevel string
	LogFile  string

	// Tab matching and evaluation
	TabURLFilter string
	EvalTimeout  time.Duration

	// Backend link
	BackendURL  string
	Sport       string
	Persona     string
	ProfilePath string

	// Viewing
	DelayMS       int
	DelayedViewer bool
	AudioPlayer   string
	PreviewFPS    int
	SnapshotDir   string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:    getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:       getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		LaunchBrowser: getEnvBoolOrDefault("SPORTSCASTER_LAUNCH_BROWSER", false),
		BrowserPath:   getEnvOrDefault("CHROMIUM_PATH", ""),
		ProfileDir:    getEnvOrDefault("CHROMIUM_PROFILE_DIR", "./.chromium-profile"),
		Headless:      getEnvBoolOrDefault("CHROMIUM_HEADLESS", false),
		BindAddr:      getEnvOrDefault("SPORTSCASTER_BIND_ADDR", "127.0.0.1:8190"),
		BindFallbacks: getEnvListOrDefault("SPORTSCASTER_BIND_FALLBACKS", nil),
		BindAuto:      getEnvBoolOrDefault("SPORTSCASTER_BIND_AUTO", true),
		CORSOrigins:   getEnvListOrDefault("SPORTSCASTER_CORS_ORIGINS", []string{"*"}),
		LogLevel:      getEnvOrDefault("SPORTSCASTER_LOG_LEVEL", "info"),
		LogFile:       getEnvOrDefault("SPORTSCASTER_LOG_FILE", "logs/sportscaster.log"),
		TabURLFilter:  getEnvOrDefault("SPORTSCASTER_TAB_URL_FILTER", ""),
		EvalTimeout:   time.Duration(getEnvIntOrDefault("SPORTSCASTER_EVAL_TIMEOUT_MS", 5000)) * time.Millisecond,
		BackendURL:    BackendURL,
		Sport:         getEnvOrDefault("SPORTSCASTER_SPORT", ""),
		Persona:       getEnvOrDefault("SPORTSCASTER_PERSONA", ""),
		ProfilePath:   getEnvOrDefault("SPORTSCASTER_PROFILE", "./profile.yaml"),
		DelayMS:       getEnvIntOrDefault("SPORTSCASTER_DELAY_MS", 3000),
		DelayedViewer: getEnvBoolOrDefault("SPORTSCASTER_DELAYED_VIEWER", true),
		AudioPlayer:   getEnvOrDefault("SPORTSCASTER_AUDIO_PLAYER", "ffplay"),
		PreviewFPS:    getEnvIntOrDefault("SPORTSCASTER_PREVIEW_FPS", 1),
		SnapshotDir:   getEnvOrDefault("SPORTSCASTER_SNAPSHOT_DIR", "./snapshots"),
	}

	if cfg.EvalTimeout <= 0 {
		return nil, fmt.Errorf("SPORTSCASTER_EVAL_TIMEOUT_MS must be positive")
	}
	if cfg.PreviewFPS <= 0 {
		return nil, fmt.Errorf("SPORTSCASTER_PREVIEW_FPS must be positive")
	}

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
