package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiStreamer talks to the Gemini generateContent API.
type GeminiStreamer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewGeminiStreamer creates a Gemini streamer.
func NewGeminiStreamer(baseURL, apiKey, model string, httpClient *http.Client) *GeminiStreamer {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiStreamer{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Tools             []geminiTools   `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTools struct {
	FunctionDeclarations []geminiFunction `json:"functionDeclarations"`
}

type geminiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func (s *GeminiStreamer) buildRequest(req *Request) geminiRequest {
	var out geminiRequest
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			content := geminiContent{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: json.RawMessage(args)},
				})
			}
			out.Contents = append(out.Contents, content)
		case RoleTool:
			out.Contents = append(out.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResponse{
					Name:     m.Name,
					Response: map[string]any{"content": m.Content},
				}}},
			})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]geminiFunction, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		out.Tools = []geminiTools{{FunctionDeclarations: decls}}
	}
	return out
}

// Stream sends the request and relays candidate parts. A finish reason on any
// candidate terminates the stream.
func (s *GeminiStreamer) Stream(ctx context.Context, req *Request, fn FragmentFunc) error {
	endpoint := s.baseURL + "/models/" + url.PathEscape(s.model) + ":streamGenerateContent?alt=sse"
	body, err := openStream(ctx, s.httpClient, "gemini", endpoint,
		map[string]string{"x-goog-api-key": s.apiKey}, s.buildRequest(req))
	if err != nil {
		return err
	}
	defer body.Close()

	return scanLines(ctx, body, func(line string) (bool, error) {
		data, ok := sseData(line)
		if !ok {
			return false, nil
		}
		var chunk geminiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return false, nil
		}

		done := false
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if err := emitGeminiPart(part, fn); err != nil {
					return false, err
				}
			}
			if cand.FinishReason != "" {
				done = true
			}
		}
		return done, nil
	})
}

func emitGeminiPart(part geminiPart, fn FragmentFunc) error {
	switch {
	case part.FunctionCall != nil:
		args := string(part.FunctionCall.Args)
		if args == "" || args == "null" {
			args = "{}"
		}
		return fn(Fragment{Kind: FragmentToolCall, ToolCall: &ToolCall{
			ID:        part.FunctionCall.Name,
			Name:      part.FunctionCall.Name,
			Arguments: args,
		}})
	case part.Text == "":
		return nil
	case part.Thought:
		return fn(Fragment{Kind: FragmentThinking, Text: part.Text})
	default:
		return fn(Fragment{Kind: FragmentText, Text: part.Text})
	}
}
