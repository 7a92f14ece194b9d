// Package llm streams model output from hosted LLM providers as typed fragments.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingCredential is returned by NewStreamer when no API key is configured.
var ErrMissingCredential = errors.New("llm: missing API credential")

// Message roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of the conversation sent upstream.
type Message struct {
	Role       string
	Content    string
	Name       string     // tool name, for RoleTool
	ToolCallID string     // for RoleTool
	ToolCalls  []ToolCall // for RoleAssistant
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a complete function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON object
}

// Request is a provider-neutral streaming request.
type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// FragmentKind classifies a unit of streamed output.
type FragmentKind string

const (
	FragmentText     FragmentKind = "text"
	FragmentThinking FragmentKind = "thinking"
	FragmentToolCall FragmentKind = "tool_call"
)

// Fragment is one unit of incremental output.
type Fragment struct {
	Kind     FragmentKind
	Text     string
	ToolCall *ToolCall
}

// FragmentFunc receives fragments in order. Returning an error aborts the stream.
type FragmentFunc func(Fragment) error

// Streamer opens a streaming completion and delivers fragments until the provider's
// terminal signal. Fragments delivered before a failure stay delivered.
type Streamer interface {
	Stream(ctx context.Context, req *Request, fn FragmentFunc) error
}

// StreamFunc adapts a function to Streamer.
type StreamFunc func(ctx context.Context, req *Request, fn FragmentFunc) error

// Stream calls f.
func (f StreamFunc) Stream(ctx context.Context, req *Request, fn FragmentFunc) error {
	return f(ctx, req, fn)
}

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error [%d]: %s", e.Provider, e.Code, e.Body)
}
