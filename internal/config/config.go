package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings. Values come from WEBPILOT_* environment
// variables (a .env file is loaded by main before this runs).
type Config struct {
	// HTTP
	ListenAddr     string
	AllowedOrigins []string

	// Sessions
	MaxSessions         int
	SweepInterval       time.Duration
	ConnectedIdleTTL    time.Duration
	DisconnectedIdleTTL time.Duration

	// Connections
	HeartbeatInterval time.Duration

	// Commands
	DefaultCommandTimeout time.Duration
	MaxQueuedCommands     int

	// Browser
	ChromePath    string
	ChromeFlags   []string
	UseDocker     bool
	DockerImage   string
	LaunchTimeout time.Duration

	// Agent loop
	MaxIterations int
	ActionDelay   time.Duration
	SettleDelay   time.Duration

	// Planner
	PlannerAPIKey  string
	PlannerBaseURL string
	PlannerModel   string

	// Rate limiting
	RateLimitPerHour int
	RateLimitBurst   int

	// Logging
	LogLevel string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		ListenAddr:     getEnv("WEBPILOT_LISTEN_ADDR", ":8080"),
		AllowedOrigins: getEnvList("WEBPILOT_ALLOWED_ORIGINS"),

		MaxSessions:         getEnvInt("WEBPILOT_MAX_SESSIONS", 20),
		SweepInterval:       getEnvDuration("WEBPILOT_SWEEP_INTERVAL", 30*time.Second),
		ConnectedIdleTTL:    getEnvDuration("WEBPILOT_CONNECTED_IDLE_TTL", 10*time.Minute),
		DisconnectedIdleTTL: getEnvDuration("WEBPILOT_DISCONNECTED_IDLE_TTL", 2*time.Minute),

		HeartbeatInterval: getEnvDuration("WEBPILOT_HEARTBEAT_INTERVAL", 30*time.Second),

		DefaultCommandTimeout: getEnvDuration("WEBPILOT_COMMAND_TIMEOUT", 30*time.Second),
		MaxQueuedCommands:     getEnvInt("WEBPILOT_MAX_QUEUED_COMMANDS", 10),

		ChromePath:    os.Getenv("WEBPILOT_CHROME_PATH"),
		ChromeFlags:   getEnvList("WEBPILOT_CHROME_FLAGS"),
		UseDocker:     getEnvBool("WEBPILOT_USE_DOCKER", false),
		DockerImage:   getEnv("WEBPILOT_DOCKER_IMAGE", "browserless/chrome:latest"),
		LaunchTimeout: getEnvDuration("WEBPILOT_LAUNCH_TIMEOUT", 30*time.Second),

		MaxIterations: getEnvInt("WEBPILOT_MAX_ITERATIONS", 10),
		ActionDelay:   getEnvDuration("WEBPILOT_ACTION_DELAY", 500*time.Millisecond),
		SettleDelay:   getEnvDuration("WEBPILOT_SETTLE_DELAY", 2*time.Second),

		PlannerAPIKey:  os.Getenv("OPENAI_API_KEY"),
		PlannerBaseURL: os.Getenv("OPENAI_BASE_URL"),
		PlannerModel:   getEnv("WEBPILOT_PLANNER_MODEL", "gpt-4o"),

		RateLimitPerHour: getEnvInt("WEBPILOT_RATE_LIMIT_PER_HOUR", 1000),
		RateLimitBurst:   getEnvInt("WEBPILOT_RATE_LIMIT_BURST", 20),

		LogLevel: getEnv("WEBPILOT_LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
