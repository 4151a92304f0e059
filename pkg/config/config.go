// Package config loads service configuration from environment variables with
// an optional YAML profile overlay.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full server configuration. It is read-only after Load.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL        string
	IntentServiceToken string
	ServiceJWTSecret   string

	UserTimezone             string
	MinConfidenceToWrite     float64
	MaxInferredFields        int
	ExecuteActions           bool
	ClarificationExpiryHours int

	ProjectResolutionThreshold float64
	ProjectResolutionMargin    float64

	GatewayBaseURL         string
	GatewayBearerToken     string
	GatewayTasksCreatePath string
	GatewayTasksUpdatePath string
	GatewayListAddItemPath string
	GatewayNoteCapturePath string
	GatewayTimeout         time.Duration

	ContextAPIBaseURL           string
	ContextAPIBearerToken       string
	ContextAPIProjectSearchPath string
	ContextAPITimeout           time.Duration

	CORSOrigins []string
	PolicyRule  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPS   int
	RateLimitBurst int

	OTLPEndpoint string
	ArchiveURL   string

	Version         string
	GitSHA          string
	ArtifactVersion int
}

// Load reads configuration from the environment, applying defaults for every
// optional knob. If INTENT_CONFIG_FILE is set, the YAML profile is applied on
// top of the environment values.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		DatabaseURL:        os.Getenv("DATABASE_URL"),
		IntentServiceToken: getenv("INTENT_SERVICE_TOKEN", "change-me"),
		ServiceJWTSecret:   os.Getenv("INTENT_SERVICE_JWT_SECRET"),

		UserTimezone:             getenv("USER_TIMEZONE", "Europe/London"),
		MinConfidenceToWrite:     getenvFloat("MIN_CONFIDENCE_TO_WRITE", 0.75),
		MaxInferredFields:        getenvInt("MAX_INFERRED_FIELDS", 2),
		ExecuteActions:           getenvBool("EXECUTE_ACTIONS", false),
		ClarificationExpiryHours: getenvInt("CLARIFICATION_EXPIRY_HOURS", 72),

		ProjectResolutionThreshold: getenvFloat("PROJECT_RESOLUTION_THRESHOLD", 0.90),
		ProjectResolutionMargin:    getenvFloat("PROJECT_RESOLUTION_MARGIN", 0.10),

		GatewayBaseURL:         os.Getenv("GATEWAY_BASE_URL"),
		GatewayBearerToken:     os.Getenv("GATEWAY_BEARER_TOKEN"),
		GatewayTasksCreatePath: getenv("GATEWAY_TASKS_CREATE_PATH", "/v1/notion/tasks/create"),
		GatewayTasksUpdatePath: getenv("GATEWAY_TASKS_UPDATE_PATH", "/v1/notion/tasks/update"),
		GatewayListAddItemPath: getenv("GATEWAY_LIST_ADD_ITEM_PATH", "/v1/notion/list/add-item"),
		GatewayNoteCapturePath: getenv("GATEWAY_NOTE_CAPTURE_PATH", "/v1/notion/note/capture"),
		GatewayTimeout:         time.Duration(getenvFloat("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,

		ContextAPIBaseURL:           os.Getenv("CONTEXT_API_BASE_URL"),
		ContextAPIBearerToken:       os.Getenv("CONTEXT_API_BEARER_TOKEN"),
		ContextAPIProjectSearchPath: getenv("CONTEXT_API_PROJECT_SEARCH_PATH", "/v1/projects/search"),
		ContextAPITimeout:           time.Duration(getenvFloat("CONTEXT_API_TIMEOUT_SECONDS", 5)) * time.Second,

		CORSOrigins: splitCSV(os.Getenv("INTENT_CORS_ORIGINS")),
		PolicyRule:  os.Getenv("INTENT_POLICY_RULE"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),

		RateLimitRPS:   getenvInt("RATE_LIMIT_RPS", 25),
		RateLimitBurst: getenvInt("RATE_LIMIT_BURST", 50),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ArchiveURL:   os.Getenv("ARCHIVE_URL"),

		Version:         getenv("VERSION", "0.0.0"),
		GitSHA:          getenv("GIT_SHA", "unknown"),
		ArtifactVersion: getenvInt("ARTIFACT_VERSION", 1),
	}

	if path := os.Getenv("INTENT_CONFIG_FILE"); path != "" {
		if err := applyProfile(cfg, path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ClarificationExpiry returns the configured expiry as a duration.
func (c *Config) ClarificationExpiry() time.Duration {
	return time.Duration(c.ClarificationExpiryHours) * time.Hour
}

// GatewayConfigured reports whether the executor has a dispatch target.
func (c *Config) GatewayConfigured() bool {
	return c.GatewayBaseURL != ""
}

// GatewayPath returns the endpoint path for a plan action name, or "".
func (c *Config) GatewayPath(action string) string {
	switch action {
	case "notion.tasks.create":
		return c.GatewayTasksCreatePath
	case "notion.tasks.update":
		return c.GatewayTasksUpdatePath
	case "notion.list.add_item":
		return c.GatewayListAddItemPath
	case "notion.note.capture":
		return c.GatewayNoteCapturePath
	}
	return ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func splitCSV(v string) []string {
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
