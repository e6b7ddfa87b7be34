package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voicebridge service
type Config struct {
	// Server configuration (health, readiness, metrics, call control)
	Port string `envconfig:"PORT" default:"8080"`

	// Gemini Live API configuration
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModel    string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash-native-audio-preview-09-2025"`
	GeminiVoice    string `envconfig:"GEMINI_VOICE" default:"Zephyr"`
	GeminiEndpoint string `envconfig:"GEMINI_ENDPOINT" default:""` // override for testing/proxying

	// Conversational policy passed verbatim to the session; empty selects
	// the built-in receptionist policy.
	SystemPolicy string `envconfig:"SYSTEM_POLICY" default:""`

	// CRM record-creation service. An empty URL selects the log-only client
	// (records are created locally, nothing leaves the process).
	CRMAPIURL           string `envconfig:"CRM_API_URL" default:""`
	CRMAPIKey           string `envconfig:"CRM_API_KEY" default:""`
	CRMTimeout          int    `envconfig:"CRM_TIMEOUT" default:"10"`            // seconds
	CRMRetryMaxAttempts int    `envconfig:"CRM_RETRY_MAX_ATTEMPTS" default:"1"`  // 1 = no retry
	CRMRetryBackoff     int    `envconfig:"CRM_RETRY_BACKOFF" default:"250"`     // milliseconds

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Capture configuration. The recorder command must emit raw PCM16LE
	// mono at the capture sample rate on stdout (arecord/sox/rec style).
	CaptureCommand string `envconfig:"CAPTURE_COMMAND" default:"arecord"`
	CaptureDevice  string `envconfig:"CAPTURE_DEVICE" default:""`
	FrameSize      int    `envconfig:"FRAME_SIZE" default:"4096"` // samples per capture frame

	// Tool dispatch configuration
	ToolTimeout int `envconfig:"TOOL_TIMEOUT" default:"10"` // seconds

	// Audio processing configuration
	PlaybackBufferSize int     `envconfig:"PLAYBACK_BUFFER_SIZE" default:"262144"` // playback staging bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`  // RMS threshold for caller activity
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"4"`        // quiet frames before speech end

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // pretty print logs (development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without consulting a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("FRAME_SIZE must be positive, got %d", cfg.FrameSize)
	}

	return &cfg, nil
}

// CRMTimeoutDuration returns the CRM request timeout.
func (c *Config) CRMTimeoutDuration() time.Duration {
	return time.Duration(c.CRMTimeout) * time.Second
}

// ToolTimeoutDuration returns the bound on a single tool invocation.
func (c *Config) ToolTimeoutDuration() time.Duration {
	return time.Duration(c.ToolTimeout) * time.Second
}
