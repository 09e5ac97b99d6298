package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Realtime session defaults. These match the audio format Twilio Media Streams
// delivers (8kHz mono G.711 µ-law) and the server-side VAD tuning used in
// production.
const (
	AudioFormat        = "g711_ulaw"
	TranscriptionModel = "whisper-1"

	VADThreshold         = 0.6
	VADPrefixPaddingMs   = 200
	VADSilenceDurationMs = 300

	// ReadyTimeout bounds how long queued realtime commands may wait for the
	// upstream socket to finish its handshake before the call is torn down.
	ReadyTimeout = 5 * time.Second
)

// Config holds the service configuration loaded from environment variables.
type Config struct {
	Port       string
	InstanceID string

	// PublicHost is the externally reachable host used to build the
	// wss:// media-stream URL handed back to Twilio in TwiML. When empty,
	// the webhook falls back to the request Host header.
	PublicHost string

	OpenAIAPIKey  string
	RealtimeURL   string
	RealtimeModel string
	Voice         string

	// SummaryModel and SummaryBaseURL configure the post-call chat
	// completion used for ticket extraction.
	SummaryModel   string
	SummaryBaseURL string

	// MaxConcurrentCalls caps active bridge sessions on this instance.
	MaxConcurrentCalls int

	// UpgradesPerSecond rate-limits media-stream websocket upgrades.
	UpgradesPerSecond float64

	DatabaseEnabled bool
	RedisEnabled    bool
}

// LoadFromEnv builds a Config from environment variables, applying defaults
// for everything except the OpenAI API key.
func LoadFromEnv() (*Config, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	cfg := &Config{
		Port:               GetEnvOrDefault("PORT", "8080"),
		InstanceID:         GetEnvOrDefault("INSTANCE_ID", ""),
		PublicHost:         GetEnvOrDefault("PUBLIC_HOST", ""),
		OpenAIAPIKey:       apiKey,
		RealtimeURL:        GetEnvOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:      GetEnvOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		Voice:              GetEnvOrDefault("OPENAI_VOICE", "alloy"),
		SummaryModel:       GetEnvOrDefault("OPENAI_SUMMARY_MODEL", "gpt-4o-mini"),
		SummaryBaseURL:     GetEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		MaxConcurrentCalls: GetEnvIntOrDefault("MAX_CONCURRENT_CALLS", 50),
		UpgradesPerSecond:  float64(GetEnvIntOrDefault("UPGRADES_PER_SECOND", 10)),
		DatabaseEnabled:    GetEnvBoolOrDefault("DATABASE_ENABLED", false),
		RedisEnabled:       GetEnvBoolOrDefault("REDIS_ENABLED", false),
	}

	if cfg.InstanceID == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.InstanceID = hostname
		} else {
			cfg.InstanceID = "voice-bridge-local"
		}
	}

	return cfg, nil
}

// GetEnvOrDefault gets environment variable or returns default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvIntOrDefault gets environment variable as int or returns default value.
func GetEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvBoolOrDefault gets environment variable as bool or returns default value.
func GetEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
