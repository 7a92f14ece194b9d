package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	// HTTPClient defaults to a client without a timeout; streams are bounded by
	// the request context instead.
	HTTPClient *http.Client
}

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderGemini:    "gemini-2.0-flash",
}

// NewStreamer creates the streamer for cfg.Provider. It returns ErrMissingCredential
// when no API key is set so callers can fall back to Placeholder.
func NewStreamer(cfg Config) (Streamer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	if _, ok := defaultModels[provider]; !ok {
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}

	model := cfg.Model
	if model == "" {
		model = defaultModels[provider]
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	switch provider {
	case ProviderAnthropic:
		return NewAnthropicStreamer(cfg.BaseURL, cfg.APIKey, model, client), nil
	case ProviderGemini:
		return NewGeminiStreamer(cfg.BaseURL, cfg.APIKey, model, client), nil
	default:
		return NewOpenAIStreamer(cfg.BaseURL, cfg.APIKey, model, client), nil
	}
}
