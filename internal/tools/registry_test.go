package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/paygate/internal/domain"
)

type sessionMap map[string]*domain.Session

func (m sessionMap) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return m[id], nil
}

func echoExec(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "b"}, echoExec))
	require.NoError(t, r.Register(Definition{Name: "a"}, echoExec))

	err := r.Register(Definition{Name: "a"}, echoExec)
	assert.ErrorContains(t, err, "already registered")
	assert.Error(t, r.Register(Definition{}, echoExec))
	assert.Error(t, r.Register(Definition{Name: "c"}, nil))

	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{Name: "echo"}, echoExec)

	out, err := r.Execute(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(out))

	_, err = r.Execute(context.Background(), "missing", nil)
	assert.ErrorContains(t, err, "no executor registered")
}

func TestBuiltins(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := sessionMap{"s1": {ID: "s1", FileRefs: []string{"f1", "f2"}}}

	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, func() time.Time { return fixed }, sessions))
	assert.Equal(t, []string{"session.files", "time.now"}, r.Names())

	out, err := r.Execute(context.Background(), "time.now", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"now":"2026-03-01T12:00:00Z"}`, string(out))

	out, err = r.Execute(WithSession(context.Background(), "s1"), "session.files", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"files":["f1","f2"]}`, string(out))

	_, err = r.Execute(context.Background(), "session.files", nil)
	assert.Error(t, err)

	_, err = r.Execute(WithSession(context.Background(), "gone"), "session.files", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
