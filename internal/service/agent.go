package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaot623/paygate/internal/adapter/llm"
	"github.com/xiaot623/paygate/internal/agent"
	"github.com/xiaot623/paygate/internal/config"
	"github.com/xiaot623/paygate/internal/log"
	"github.com/xiaot623/paygate/internal/policy"
	"github.com/xiaot623/paygate/internal/store"
	"github.com/xiaot623/paygate/internal/tools"
)

// NewStreamer builds the configured model streamer. Without a credential it falls
// back to llm.Placeholder so the gateway stays usable.
func NewStreamer(cfg *config.Config) (llm.Streamer, error) {
	streamer, err := llm.NewStreamer(llm.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		BaseURL:  cfg.LLMBaseURL,
	})
	if errors.Is(err, llm.ErrMissingCredential) {
		logger := log.WithComponent("llm")
		logger.Warn().Str("provider", cfg.LLMProvider).Msg("no LLM API key configured, using placeholder replies")
		return llm.Placeholder{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create llm streamer: %w", err)
	}
	return streamer, nil
}

// NewAgent composes the research agent with the builtin tools and default policy.
func NewAgent(ctx context.Context, cfg *config.Config, st store.Store, streamer llm.Streamer) (*agent.Agent, error) {
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, time.Now, st); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	engine, err := policy.NewDefaultEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("create policy engine: %w", err)
	}
	return agent.NewResearchAgent(cfg.AgentName, cfg.SystemPrompt, streamer, registry, engine, cfg.MaxToolRounds), nil
}
