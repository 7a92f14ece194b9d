package llm

import (
	"context"
	"fmt"
)

// PlaceholderPrefix marks every reply produced without a configured provider.
const PlaceholderPrefix = "[placeholder]"

// Placeholder streams a canned, clearly labeled reply. It stands in for a real
// provider when no credential is configured.
type Placeholder struct {
	// ChunkSize is the number of bytes per text fragment.
	ChunkSize int
}

var _ Streamer = Placeholder{}

// Stream replies to the last user message.
func (p Placeholder) Stream(ctx context.Context, req *Request, fn FragmentFunc) error {
	size := p.ChunkSize
	if size <= 0 {
		size = 16
	}
	for _, chunk := range splitIntoChunks(placeholderReply(req), size) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(Fragment{Kind: FragmentText, Text: chunk}); err != nil {
			return err
		}
	}
	return nil
}

func placeholderReply(req *Request) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}
	if lastUserMessage == "" {
		return PlaceholderPrefix + " No model provider is configured."
	}
	return fmt.Sprintf("%s No model provider is configured. Received your message: %q.",
		PlaceholderPrefix, truncate(lastUserMessage, 100))
}

// splitIntoChunks splits s into chunks of at most size bytes without breaking runes.
func splitIntoChunks(s string, size int) []string {
	var chunks []string
	var cur []rune
	n := 0
	for _, r := range s {
		l := len(string(r))
		if n+l > size && n > 0 {
			chunks = append(chunks, string(cur))
			cur, n = cur[:0], 0
		}
		cur = append(cur, r)
		n += l
	}
	if n > 0 {
		chunks = append(chunks, string(cur))
	}
	return chunks
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
