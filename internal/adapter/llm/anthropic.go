package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// AnthropicStreamer talks to the Anthropic messages API.
type AnthropicStreamer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAnthropicStreamer creates an Anthropic streamer.
func NewAnthropicStreamer(baseURL, apiKey, model string, httpClient *http.Client) *AnthropicStreamer {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicStreamer{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *AnthropicStreamer) buildRequest(req *Request) anthropicRequest {
	var messages []anthropicMessage
	for _, m := range req.Messages {
		switch m.Role {
		case RoleTool:
			block := anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			// Consecutive tool results belong to a single user turn.
			if n := len(messages); n > 0 && messages[n-1].Role == RoleUser && isToolResultTurn(messages[n-1]) {
				messages[n-1].Content = append(messages[n-1].Content, block)
				continue
			}
			messages = append(messages, anthropicMessage{Role: RoleUser, Content: []anthropicBlock{block}})
		case RoleAssistant:
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: json.RawMessage(args)})
			}
			messages = append(messages, anthropicMessage{Role: RoleAssistant, Content: blocks})
		default:
			messages = append(messages, anthropicMessage{
				Role:    RoleUser,
				Content: []anthropicBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	out := anthropicRequest{
		Model:     s.model,
		MaxTokens: anthropicMaxTokens,
		System:    req.System,
		Messages:  messages,
		Stream:    true,
	}
	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

func isToolResultTurn(m anthropicMessage) bool {
	return len(m.Content) > 0 && m.Content[0].Type == "tool_result"
}

// Stream sends the request and relays text and thinking deltas. Tool use blocks are
// delivered once their input JSON is complete.
func (s *AnthropicStreamer) Stream(ctx context.Context, req *Request, fn FragmentFunc) error {
	body, err := openStream(ctx, s.httpClient, "anthropic", s.baseURL+"/messages", map[string]string{
		"x-api-key":         s.apiKey,
		"anthropic-version": anthropicVersion,
	}, s.buildRequest(req))
	if err != nil {
		return err
	}
	defer body.Close()

	calls := map[int]*ToolCall{}
	return scanLines(ctx, body, func(line string) (bool, error) {
		data, ok := sseData(line)
		if !ok {
			return false, nil
		}
		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return false, nil
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				calls[ev.Index] = &ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				return false, fn(Fragment{Kind: FragmentText, Text: ev.Delta.Text})
			case "thinking_delta":
				return false, fn(Fragment{Kind: FragmentThinking, Text: ev.Delta.Thinking})
			case "input_json_delta":
				if call, ok := calls[ev.Index]; ok {
					call.Arguments += ev.Delta.PartialJSON
				}
			}
		case "content_block_stop":
			if call, ok := calls[ev.Index]; ok {
				delete(calls, ev.Index)
				if call.Arguments == "" {
					call.Arguments = "{}"
				}
				return false, fn(Fragment{Kind: FragmentToolCall, ToolCall: call})
			}
		case "message_stop":
			return true, nil
		case "error":
			if ev.Error.Message == "" {
				return false, errors.New("anthropic stream error")
			}
			return false, fmt.Errorf("anthropic stream error (%s): %s", ev.Error.Type, ev.Error.Message)
		}
		return false, nil
	})
}
