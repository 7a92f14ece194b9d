// Package config provides configuration for the payment gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`

	// Storage
	StoreDriver   string `yaml:"store_driver"`
	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Session lifecycle
	SessionTTL     time.Duration `yaml:"session_ttl"`
	ReaperInterval time.Duration `yaml:"reaper_interval"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`

	// Payment
	VerifierURL   string        `yaml:"verifier_url"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	Receiver      string        `yaml:"receiver"`
	Token         string        `yaml:"token"`
	TokenDecimals int32         `yaml:"token_decimals"`
	Price         string        `yaml:"price"`
	Network       string        `yaml:"network"`

	// Agent
	AgentName     string `yaml:"agent_name"`
	SystemPrompt  string `yaml:"system_prompt"`
	LLMProvider   string `yaml:"llm_provider"`
	LLMModel      string `yaml:"llm_model"`
	LLMAPIKey     string `yaml:"llm_api_key"`
	LLMBaseURL    string `yaml:"llm_base_url"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`

	// Limits
	MaxMessageLength int     `yaml:"max_message_length"`
	MaxUploadBytes   int64   `yaml:"max_upload_bytes"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`
	RateLimitBurst   int     `yaml:"rate_limit_burst"`

	// Files
	UploadDir  string `yaml:"upload_dir"`
	ReportsDir string `yaml:"reports_dir"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:         4000,
		StoreDriver:      StoreSQLite,
		DatabaseURL:      "file:paygate.db",
		RedisAddr:        "localhost:6379",
		SessionTTL:       24 * time.Hour,
		ReaperInterval:   10 * time.Minute,
		JobTimeout:       30 * time.Minute,
		HealthInterval:   time.Minute,
		VerifierURL:      "https://devnet-api.multiversx.com",
		VerifyTimeout:    10 * time.Second,
		Token:            "USDC-c76f1f",
		TokenDecimals:    6,
		Price:            "0.50",
		Network:          "multiversx-devnet",
		AgentName:        "market-research-bot",
		SystemPrompt:     defaultSystemPrompt,
		LLMProvider:      "openai",
		LLMModel:         "gpt-4o-mini",
		MaxToolRounds:    3,
		MaxMessageLength: 10000,
		MaxUploadBytes:   10 << 20,
		RateLimitRPS:     5,
		RateLimitBurst:   20,
		UploadDir:        "data/uploads",
		ReportsDir:       "data/reports",
		LogLevel:         "info",
	}
}

const defaultSystemPrompt = "You are a market research assistant. Answer with concise, well-sourced analysis. " +
	"Use the available tools when they help answer the question."

// Load loads configuration from an optional YAML file, .env and environment variables.
// Environment variables win over the file.
func Load() (*Config, error) {
	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("PAYGATE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)

	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)

	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.ReaperInterval = getEnvDuration("REAPER_INTERVAL", c.ReaperInterval)
	c.JobTimeout = getEnvDuration("JOB_TIMEOUT", c.JobTimeout)
	c.HealthInterval = getEnvDuration("HEALTH_INTERVAL", c.HealthInterval)

	c.VerifierURL = getEnv("VERIFIER_URL", c.VerifierURL)
	c.VerifyTimeout = getEnvDuration("VERIFY_TIMEOUT", c.VerifyTimeout)
	c.Receiver = getEnv("PAYMENT_RECEIVER", c.Receiver)
	c.Token = getEnv("PAYMENT_TOKEN", c.Token)
	c.TokenDecimals = int32(getEnvInt("PAYMENT_TOKEN_DECIMALS", int(c.TokenDecimals)))
	c.Price = getEnv("PAYMENT_PRICE", c.Price)
	c.Network = getEnv("PAYMENT_NETWORK", c.Network)

	c.AgentName = getEnv("AGENT_NAME", c.AgentName)
	c.SystemPrompt = getEnv("SYSTEM_PROMPT", c.SystemPrompt)
	c.LLMProvider = getEnv("LLM_PROVIDER", c.LLMProvider)
	c.LLMModel = getEnv("LLM_MODEL", c.LLMModel)
	c.LLMAPIKey = getEnv("LLM_API_KEY", c.LLMAPIKey)
	c.LLMBaseURL = getEnv("LLM_BASE_URL", c.LLMBaseURL)
	c.MaxToolRounds = getEnvInt("MAX_TOOL_ROUNDS", c.MaxToolRounds)

	c.MaxMessageLength = getEnvInt("MAX_MESSAGE_LENGTH", c.MaxMessageLength)
	c.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))
	c.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)

	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.ReportsDir = getEnv("REPORTS_DIR", c.ReportsDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	durations := map[string]time.Duration{
		"session_ttl":     c.SessionTTL,
		"reaper_interval": c.ReaperInterval,
		"job_timeout":     c.JobTimeout,
		"health_interval": c.HealthInterval,
		"verify_timeout":  c.VerifyTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	price, err := decimal.NewFromString(c.Price)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", c.Price, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", c.Price)
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("max_message_length must be positive")
	}
	return nil
}

// PriceBaseUnits converts the configured price into the token's smallest unit.
func (c *Config) PriceBaseUnits() string {
	price, err := decimal.NewFromString(c.Price)
	if err != nil {
		return "0"
	}
	return price.Shift(c.TokenDecimals).Truncate(0).String()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go duration strings ("30s") or bare milliseconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
