package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/askelva/herbarium-batch/constants"
)

// Config holds all application configuration
type Config struct {
	Store StoreConfig
	Batch BatchConfig
	Step1 StepConfig
	Step2 StepConfig
	Relay RelayConfig

	// Credentials maps each supported provider to its API key. Explicit
	// mapping, validated against the closed provider set; never looked up
	// by string concatenation.
	Credentials map[constants.ProviderID]string
}

// StoreConfig holds local durable store configuration
type StoreConfig struct {
	Path string
}

// BatchConfig holds batch runner configuration
type BatchConfig struct {
	Concurrency     int
	MaxRetries      int
	RetryDelay      time.Duration
	BackoffFactor   float64
	ScanBarcodes    bool
	PersistDebounce time.Duration
	StepTimeout     time.Duration
}

// StepConfig holds the provider/model/prompt settings for one LLM step
type StepConfig struct {
	Provider    constants.ProviderID
	Model       string
	Temperature float32
	Prompt      string
}

// RelayConfig holds CORS relay configuration
type RelayConfig struct {
	URL            string // base URL the client routes LLM calls through; empty = direct
	Addr           string // listen address for the relay server command
	AllowedOrigins string // comma-separated allow-list; empty = any origin
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: getEnv("STORE_PATH", defaultStorePath()),
		},
		Batch: BatchConfig{
			Concurrency:     getEnvAsInt("BATCH_CONCURRENCY", 3),
			MaxRetries:      getEnvAsInt("BATCH_MAX_RETRIES", 3),
			RetryDelay:      getEnvAsDuration("BATCH_RETRY_DELAY", time.Second),
			BackoffFactor:   getEnvAsFloat64("BATCH_BACKOFF_FACTOR", 2),
			ScanBarcodes:    getEnvAsBool("BARCODE_SCANNING", false),
			PersistDebounce: getEnvAsDuration("PERSIST_DEBOUNCE", 500*time.Millisecond),
			StepTimeout:     getEnvAsDuration("STEP_TIMEOUT", 3*time.Minute),
		},
		Step1: StepConfig{
			Provider:    constants.ProviderID(getEnv("STEP1_PROVIDER", "openai")),
			Model:       getEnv("STEP1_MODEL", ""),
			Temperature: getEnvAsFloat32("STEP1_TEMPERATURE", 0.0),
		},
		Step2: StepConfig{
			Provider:    constants.ProviderID(getEnv("STEP2_PROVIDER", "openai")),
			Model:       getEnv("STEP2_MODEL", ""),
			Temperature: getEnvAsFloat32("STEP2_TEMPERATURE", 0.0),
		},
		Relay: RelayConfig{
			URL:            getEnv("RELAY_URL", ""),
			Addr:           getEnv("RELAY_ADDR", ":8080"),
			AllowedOrigins: getEnv("RELAY_ALLOWED_ORIGINS", ""),
		},
		Credentials: map[constants.ProviderID]string{
			constants.ProviderOpenAI:    getEnv("OPENAI_API_KEY", ""),
			constants.ProviderGemini:    getEnv("GEMINI_API_KEY", ""),
			constants.ProviderAnthropic: getEnv("ANTHROPIC_API_KEY", ""),
			constants.ProviderXAI:       getEnv("XAI_API_KEY", ""),
		},
	}
}

// fileConfig is the YAML layer. Only set fields override the env layer.
type fileConfig struct {
	StorePath string `yaml:"store_path"`
	Batch     struct {
		Concurrency   *int     `yaml:"concurrency"`
		MaxRetries    *int     `yaml:"max_retries"`
		RetryDelay    string   `yaml:"retry_delay"`
		BackoffFactor *float64 `yaml:"backoff_factor"`
		ScanBarcodes  *bool    `yaml:"scan_barcodes"`
	} `yaml:"batch"`
	Step1 stepFileConfig `yaml:"step1"`
	Step2 stepFileConfig `yaml:"step2"`
	Relay struct {
		URL            string `yaml:"url"`
		Addr           string `yaml:"addr"`
		AllowedOrigins string `yaml:"allowed_origins"`
	} `yaml:"relay"`
	Keys map[string]string `yaml:"keys"`
}

type stepFileConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float32 `yaml:"temperature"`
	Prompt      string   `yaml:"prompt"`
}

// ApplyFile merges a YAML config file on top of the env-derived config.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapError(err, "read config file")
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return WrapError(err, "decode config file")
	}

	if fc.StorePath != "" {
		c.Store.Path = fc.StorePath
	}
	if fc.Batch.Concurrency != nil {
		c.Batch.Concurrency = *fc.Batch.Concurrency
	}
	if fc.Batch.MaxRetries != nil {
		c.Batch.MaxRetries = *fc.Batch.MaxRetries
	}
	if fc.Batch.RetryDelay != "" {
		d, err := time.ParseDuration(fc.Batch.RetryDelay)
		if err != nil {
			return WrapError(err, "batch.retry_delay")
		}
		c.Batch.RetryDelay = d
	}
	if fc.Batch.BackoffFactor != nil {
		c.Batch.BackoffFactor = *fc.Batch.BackoffFactor
	}
	if fc.Batch.ScanBarcodes != nil {
		c.Batch.ScanBarcodes = *fc.Batch.ScanBarcodes
	}
	applyStep(&c.Step1, fc.Step1)
	applyStep(&c.Step2, fc.Step2)
	if fc.Relay.URL != "" {
		c.Relay.URL = fc.Relay.URL
	}
	if fc.Relay.Addr != "" {
		c.Relay.Addr = fc.Relay.Addr
	}
	if fc.Relay.AllowedOrigins != "" {
		c.Relay.AllowedOrigins = fc.Relay.AllowedOrigins
	}
	for k, v := range fc.Keys {
		id, err := constants.ParseProviderID(k)
		if err != nil {
			return WrapError(err, "keys")
		}
		c.Credentials[id] = v
	}
	return nil
}

func applyStep(dst *StepConfig, src stepFileConfig) {
	if src.Provider != "" {
		dst.Provider = constants.ProviderID(src.Provider)
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Temperature != nil {
		dst.Temperature = *src.Temperature
	}
	if src.Prompt != "" {
		dst.Prompt = src.Prompt
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	for _, step := range []struct {
		name string
		cfg  *StepConfig
	}{{"step1", &c.Step1}, {"step2", &c.Step2}} {
		id, err := constants.ParseProviderID(string(step.cfg.Provider))
		if err != nil {
			return NewAppError("CONFIG_ERROR", step.name+" provider", err)
		}
		step.cfg.Provider = id
	}
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 10 {
		return NewAppError("CONFIG_ERROR",
			fmt.Sprintf("batch concurrency must be 1..10, got %d", c.Batch.Concurrency), ErrInvalidInput)
	}
	if c.Batch.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "batch max_retries must be >= 0", ErrInvalidInput)
	}
	if c.Batch.BackoffFactor < 1 {
		return NewAppError("CONFIG_ERROR", "batch backoff_factor must be >= 1", ErrInvalidInput)
	}
	return nil
}

// Credential returns the API key for a provider. A missing key is a
// permanent failure; retrying cannot help.
func (c *Config) Credential(id constants.ProviderID) (string, error) {
	key := c.Credentials[id]
	if key == "" {
		return "", NewAppError("CONFIG_ERROR", fmt.Sprintf("no API key configured for %s", id), ErrMissingAPIKey)
	}
	return key, nil
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "herbarium-batch.db"
	}
	return home + "/.herbarium-batch/state.db"
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
