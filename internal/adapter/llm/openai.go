package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIStreamer talks to OpenAI-compatible chat completion endpoints.
type OpenAIStreamer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIStreamer creates an OpenAI streamer.
func NewOpenAIStreamer(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIStreamer {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIStreamer{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content          string           `json:"content"`
			ReasoningContent string           `json:"reasoning_content"`
			ToolCalls        []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (s *OpenAIStreamer) buildRequest(req *Request) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msg := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for i, tc := range m.ToolCalls {
			call := openAIToolCall{Index: i, ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		messages = append(messages, msg)
	}

	out := openAIRequest{Model: s.model, Messages: messages, Stream: true}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return out
}

// Stream sends the request and relays content deltas. Tool calls arrive in pieces
// keyed by index and are delivered whole when the stream terminates.
func (s *OpenAIStreamer) Stream(ctx context.Context, req *Request, fn FragmentFunc) error {
	body, err := openStream(ctx, s.httpClient, "openai", s.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + s.apiKey}, s.buildRequest(req))
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
		if data == "[DONE]" {
			return true, flushToolCalls(calls, fn)
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks
			return false, nil
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.ReasoningContent != "" {
				if err := fn(Fragment{Kind: FragmentThinking, Text: choice.Delta.ReasoningContent}); err != nil {
					return false, err
				}
			}
			if choice.Delta.Content != "" {
				if err := fn(Fragment{Kind: FragmentText, Text: choice.Delta.Content}); err != nil {
					return false, err
				}
			}
			for _, part := range choice.Delta.ToolCalls {
				call, ok := calls[part.Index]
				if !ok {
					call = &ToolCall{}
					calls[part.Index] = call
				}
				if part.ID != "" {
					call.ID = part.ID
				}
				if part.Function.Name != "" {
					call.Name = part.Function.Name
				}
				call.Arguments += part.Function.Arguments
			}
		}
		return false, nil
	})
}

func flushToolCalls(calls map[int]*ToolCall, fn FragmentFunc) error {
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		call := *calls[i]
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		if err := fn(Fragment{Kind: FragmentToolCall, ToolCall: &call}); err != nil {
			return err
		}
	}
	return nil
}
