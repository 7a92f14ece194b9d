package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/paygate/internal/domain"
)

type sessionKey struct{}

// WithSession scopes ctx to a session so session-aware tools can find it.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session id set by WithSession.
func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}

// SessionReader loads sessions for session-aware tools.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// RegisterBuiltins installs time.now and session.files into r.
func RegisterBuiltins(r *Registry, now func() time.Time, sessions SessionReader) error {
	if now == nil {
		now = time.Now
	}
	if err := r.Register(Definition{
		Name:        "time.now",
		Description: "Returns the current UTC time in RFC 3339 format.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(map[string]string{"now": now().UTC().Format(time.RFC3339)})
	}); err != nil {
		return err
	}

	return r.Register(Definition{
		Name:        "session.files",
		Description: "Lists the identifiers of files uploaded to the current session.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		id, ok := SessionFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("no session in context")
		}
		session, err := sessions.GetSession(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if session == nil {
			return nil, domain.SessionNotFound(id)
		}
		return json.Marshal(map[string][]string{"files": session.FileRefs})
	})
}
