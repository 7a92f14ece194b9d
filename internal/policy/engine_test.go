package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewDefaultEngine(ctx)
	require.NoError(t, err)

	tests := []struct {
		tool string
		want string
	}{
		{"time.now", DecisionAllow},
		{"session.files", DecisionAllow},
		{"shell.exec", DecisionBlock},
		{"", DecisionBlock},
	}
	for _, tt := range tests {
		got, err := engine.Evaluate(ctx, Input{ToolName: tt.tool, SessionID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.tool)
	}
}

func TestUndefinedDecisionBlocks(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package tool_policy

decision := "allow" if {
	input.agent == "trusted"
}
`)
	require.NoError(t, err)

	got, err := engine.Evaluate(ctx, Input{ToolName: "time.now", Agent: "other"})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, got)

	got, err = engine.Evaluate(ctx, Input{ToolName: "time.now", Agent: "trusted"})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, got)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package tool_policy\n\ndecision = {")
	assert.Error(t, err)
}
