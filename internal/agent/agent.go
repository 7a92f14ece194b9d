// Package agent runs a conversational agent over a streaming model with server-side tools.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/paygate/internal/adapter/llm"
	"github.com/xiaot623/paygate/internal/domain"
	"github.com/xiaot623/paygate/internal/log"
	"github.com/xiaot623/paygate/internal/policy"
	"github.com/xiaot623/paygate/internal/tools"
)

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = "You are a research assistant. Answer thoroughly, cite your reasoning, " +
	"and structure longer answers with headings so they read well as a report."

// PolicyEvaluator decides whether a tool call may run.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input policy.Input) (string, error)
}

// EmitFunc receives stream events in order. Returning an error stops the run.
type EmitFunc func(domain.StreamEvent) error

// Agent is a model plus the tools it may call.
type Agent struct {
	Name          string
	Description   string
	SystemPrompt  string
	Streamer      llm.Streamer
	Tools         *tools.Registry
	Policy        PolicyEvaluator
	MaxToolRounds int
}

// NewResearchAgent composes the research agent.
func NewResearchAgent(name, systemPrompt string, streamer llm.Streamer, registry *tools.Registry, pol PolicyEvaluator, maxToolRounds int) *Agent {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Agent{
		Name:          name,
		Description:   "Research assistant that streams a written report for each paid request.",
		SystemPrompt:  systemPrompt,
		Streamer:      streamer,
		Tools:         registry,
		Policy:        pol,
		MaxToolRounds: maxToolRounds,
	}
}

// ToolNames lists the tools the agent may call.
func (a *Agent) ToolNames() []string {
	if a.Tools == nil {
		return []string{}
	}
	return a.Tools.Names()
}

type toolCallEvent struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Run streams a reply to history through emit and returns the accumulated text.
// Tool calls are policy-checked, executed and fed back to the model for at most
// MaxToolRounds rounds. The session for session-aware tools is taken from ctx.
func (a *Agent) Run(ctx context.Context, history []domain.ChatMessage, emit EmitFunc) (string, error) {
	logger := log.FromContext(ctx).With().Str("agent", a.Name).Logger()

	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	var reply strings.Builder
	for round := 0; ; round++ {
		req := &llm.Request{System: a.SystemPrompt, Messages: messages}
		offerTools := a.Tools != nil && round < a.MaxToolRounds
		if offerTools {
			for _, def := range a.Tools.Definitions() {
				req.Tools = append(req.Tools, llm.Tool{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
			}
		}

		var roundText strings.Builder
		var calls []llm.ToolCall
		err := a.Streamer.Stream(ctx, req, func(f llm.Fragment) error {
			switch f.Kind {
			case llm.FragmentText:
				roundText.WriteString(f.Text)
				reply.WriteString(f.Text)
				return emit(domain.TextEvent(f.Text))
			case llm.FragmentThinking:
				return emit(domain.StreamEvent{Kind: domain.EventThinking, Content: f.Text})
			case llm.FragmentToolCall:
				if f.ToolCall != nil {
					calls = append(calls, *f.ToolCall)
				}
			}
			return nil
		})
		if err != nil {
			return reply.String(), err
		}
		if len(calls) == 0 {
			return reply.String(), nil
		}
		if !offerTools {
			logger.Warn().Int("round", round).Int("calls", len(calls)).Msg("ignoring tool calls past round limit")
			return reply.String(), nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: roundText.String(), ToolCalls: calls})
		for _, call := range calls {
			args := call.Arguments
			if !json.Valid([]byte(args)) {
				args = "{}"
			}
			payload, _ := json.Marshal(toolCallEvent{ID: call.ID, Name: call.Name, Arguments: json.RawMessage(args)})
			if err := emit(domain.StreamEvent{Kind: domain.EventToolCall, Content: string(payload)}); err != nil {
				return reply.String(), err
			}

			result := a.invoke(ctx, call.Name, json.RawMessage(args))
			if err := emit(domain.StreamEvent{Kind: domain.EventToolResult, Content: result}); err != nil {
				return reply.String(), err
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, Name: call.Name, ToolCallID: call.ID, Content: result})
		}
	}
}

// invoke runs one tool call. Failures are reported to the model as an error object.
func (a *Agent) invoke(ctx context.Context, name string, args json.RawMessage) string {
	logger := log.FromContext(ctx)

	if a.Policy != nil {
		input := policy.Input{ToolName: name, Agent: a.Name}
		input.SessionID, _ = tools.SessionFromContext(ctx)
		_ = json.Unmarshal(args, &input.Args)

		decision, err := a.Policy.Evaluate(ctx, input)
		if err != nil {
			logger.Error().Err(err).Str("tool", name).Msg("policy evaluation failed")
			return toolError("policy evaluation failed")
		}
		if decision != policy.DecisionAllow {
			logger.Info().Str("tool", name).Str("decision", decision).Msg("tool call blocked")
			return toolError(fmt.Sprintf("tool %s is not permitted", name))
		}
	}

	out, err := a.Tools.Execute(ctx, name, args)
	if err != nil {
		logger.Warn().Err(err).Str("tool", name).Msg("tool execution failed")
		return toolError(err.Error())
	}
	return string(out)
}

func toolError(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
