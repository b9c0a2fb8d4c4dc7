package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Server types.
const (
	ServerWebsocket = "websocket"
	ServerProxy     = "proxy"
	ServerBoth      = "both"
)

// Transcription modes for audio arriving on the multiplexed endpoint.
const (
	TranscriptionStreaming = "streaming"
	TranscriptionBatch     = "batch"
)

// Vision providers.
const (
	VisionOpenAI = "openai"
	VisionGemini = "gemini"
)

// ErrMissingCredential is returned when a provider key required by the
// selected features is not set.
var ErrMissingCredential = errors.New("missing required credential")

// Config holds all server configuration
type Config struct {
	Port              int           `yaml:"port"`
	ProxyPort         int           `yaml:"proxy_port"`  // Port for the dedicated Deepgram proxy (used when ServerType is "both")
	ServerType        string        `yaml:"server_type"` // "websocket", "proxy", or "both"
	TranscriptionMode string        `yaml:"transcription_mode"`
	VisionProvider    string        `yaml:"vision_provider"`
	RedisURL          string        `yaml:"redis_url"`
	RedisPassword     string        `yaml:"redis_password"`
	MaxSessions       int           `yaml:"max_sessions"`
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	KeepAlivePeriod   time.Duration `yaml:"keepalive_period"`
	ProviderTimeout   time.Duration `yaml:"provider_timeout"` // 0 disables the bound on provider calls
	MinBatchAudio     int           `yaml:"min_batch_audio_bytes"`
	MaxInflight       int           `yaml:"max_inflight_analyses"` // per session
	MaxQueued         int           `yaml:"max_queued_analyses"`   // per session, waiting for a slot
	TempDir           string        `yaml:"temp_dir"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`

	DeepgramAPIKey   string `yaml:"deepgram_api_key"`
	DeepgramURL      string `yaml:"deepgram_url"`
	DeepgramModel    string `yaml:"deepgram_model"`
	DeepgramLanguage string `yaml:"deepgram_language"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	VisionModel   string `yaml:"vision_model"`
	WhisperModel  string `yaml:"whisper_model"`

	GeminiAPIKey      string `yaml:"gemini_api_key"`
	GeminiVisionModel string `yaml:"gemini_vision_model"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:              3000,
		ProxyPort:         8081,
		ServerType:        ServerBoth,
		TranscriptionMode: TranscriptionStreaming,
		VisionProvider:    VisionOpenAI,
		RedisURL:          "localhost:6379",
		MaxSessions:       100,
		SessionTimeout:    30 * time.Minute,
		AllowedOrigins:    []string{"*"},
		KeepAlivePeriod:   3 * time.Second,
		MinBatchAudio:     1000,
		MaxInflight:       4,
		MaxQueued:         16,
		TempDir:           os.TempDir(),
		LogLevel:          "info",
		LogFormat:         "text",
		DeepgramURL:       "wss://api.deepgram.com/v1/listen",
		DeepgramModel:     "nova-3",
		DeepgramLanguage:  "en",
		VisionModel:       "gpt-4.1-mini",
		WhisperModel:      "whisper-1",
		GeminiVisionModel: "gemini-2.5-flash",
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file named by
// RELAY_CONFIG_FILE and environment variables, in that order.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	envString("SERVER_TYPE", &c.ServerType)
	envString("TRANSCRIPTION_MODE", &c.TranscriptionMode)
	envString("VISION_PROVIDER", &c.VisionProvider)
	envString("REDIS_URL", &c.RedisURL)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("TEMP_DIR", &c.TempDir)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("DEEPGRAM_API_KEY", &c.DeepgramAPIKey)
	envString("DEEPGRAM_URL", &c.DeepgramURL)
	envString("DEEPGRAM_MODEL", &c.DeepgramModel)
	envString("DEEPGRAM_LANGUAGE", &c.DeepgramLanguage)
	envString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	envString("OPENAI_BASE_URL", &c.OpenAIBaseURL)
	envString("VISION_MODEL", &c.VisionModel)
	envString("WHISPER_MODEL", &c.WhisperModel)
	envString("GEMINI_API_KEY", &c.GeminiAPIKey)
	envString("GEMINI_VISION_MODEL", &c.GeminiVisionModel)

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = strings.Split(origins, ",")
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"PORT", &c.Port},
		{"DEEPGRAM_PROXY_PORT", &c.ProxyPort},
		{"MAX_SESSIONS", &c.MaxSessions},
		{"MIN_BATCH_AUDIO_BYTES", &c.MinBatchAudio},
		{"MAX_INFLIGHT_ANALYSES", &c.MaxInflight},
		{"MAX_QUEUED_ANALYSES", &c.MaxQueued},
	}
	for _, v := range ints {
		if err := envInt(v.name, v.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		name string
		unit time.Duration
		dst  *time.Duration
	}{
		{"SESSION_TIMEOUT", time.Minute, &c.SessionTimeout},
		{"KEEPALIVE_PERIOD", time.Second, &c.KeepAlivePeriod},
		{"PROVIDER_TIMEOUT", time.Second, &c.ProviderTimeout},
	}
	for _, v := range durations {
		if os.Getenv(v.name) == "" {
			continue
		}
		var n int
		if err := envInt(v.name, &n); err != nil {
			return err
		}
		*v.dst = time.Duration(n) * v.unit
	}
	return nil
}

// Validate checks enumerations and the credentials required by the enabled
// features.
func (c *Config) Validate() error {
	switch c.ServerType {
	case ServerWebsocket, ServerProxy, ServerBoth:
	default:
		return fmt.Errorf("invalid SERVER_TYPE %q: must be 'websocket', 'proxy', or 'both'", c.ServerType)
	}
	switch c.TranscriptionMode {
	case TranscriptionStreaming, TranscriptionBatch:
	default:
		return fmt.Errorf("invalid TRANSCRIPTION_MODE %q: must be 'streaming' or 'batch'", c.TranscriptionMode)
	}
	switch c.VisionProvider {
	case VisionOpenAI, VisionGemini:
	default:
		return fmt.Errorf("invalid VISION_PROVIDER %q: must be 'openai' or 'gemini'", c.VisionProvider)
	}
	if c.KeepAlivePeriod <= 0 {
		return fmt.Errorf("invalid KEEPALIVE_PERIOD: must be positive")
	}
	if c.ProviderTimeout < 0 {
		return fmt.Errorf("invalid PROVIDER_TIMEOUT: must not be negative")
	}
	if c.MaxInflight < 1 {
		return fmt.Errorf("invalid MAX_INFLIGHT_ANALYSES: must be at least 1")
	}
	if c.MaxQueued < 1 {
		return fmt.Errorf("invalid MAX_QUEUED_ANALYSES: must be at least 1")
	}

	if c.NeedsDeepgram() && c.DeepgramAPIKey == "" {
		return fmt.Errorf("%w: DEEPGRAM_API_KEY environment variable is required", ErrMissingCredential)
	}
	if c.NeedsOpenAI() && c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingCredential)
	}
	if c.ServesWebsocket() && c.VisionProvider == VisionGemini && c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required", ErrMissingCredential)
	}
	return nil
}

// ServesWebsocket reports whether the multiplexed endpoint is enabled.
func (c *Config) ServesWebsocket() bool {
	return c.ServerType == ServerWebsocket || c.ServerType == ServerBoth
}

// ServesProxy reports whether the dedicated proxy listener is enabled.
func (c *Config) ServesProxy() bool {
	return c.ServerType == ServerProxy || c.ServerType == ServerBoth
}

// NeedsDeepgram reports whether any enabled feature streams to Deepgram.
func (c *Config) NeedsDeepgram() bool {
	return c.ServesProxy() || (c.ServesWebsocket() && c.TranscriptionMode == TranscriptionStreaming)
}

// NeedsOpenAI reports whether any enabled feature calls OpenAI.
func (c *Config) NeedsOpenAI() bool {
	if !c.ServesWebsocket() {
		return false
	}
	return c.TranscriptionMode == TranscriptionBatch || c.VisionProvider == VisionOpenAI
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}
