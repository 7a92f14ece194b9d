package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers each inbound frame with the next batch of frames.
func scriptedServer(t *testing.T, replies [][]map[string]any, got chan<- map[string]any) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, batch := range replies {
			var in map[string]any
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			got <- in
			for _, frame := range batch {
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientPaymentFlow(t *testing.T) {
	got := make(chan map[string]any, 3)
	addr := scriptedServer(t, [][]map[string]any{
		{{"type": "payment_required", "sessionId": "s1", "payment": map[string]any{"amount": "0.50", "token": "USDC"}}},
		{{"type": "confirmation", "status": "confirmed", "sessionId": "s1", "jobId": "job_1"}},
		{
			{"type": "text", "content": "Hi"},
			{"type": "error", "content": "The agent failed to complete the response."},
			{"type": "complete", "jobId": "job_1"},
		},
	}, got)

	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer c.Close()

	require.Error(t, c.ConfirmPayment("0xabcdef123456", func(Frame) {}))

	var frames []Frame
	collect := func(f Frame) { frames = append(frames, f) }

	require.NoError(t, c.Chat("hello", collect))
	require.Len(t, frames, 1)
	assert.Equal(t, "0.50", frames[0].Payment.Amount)
	assert.Equal(t, "s1", c.SessionID())
	assert.Equal(t, "chat", (<-got)["type"])

	require.NoError(t, c.ConfirmPayment("0xabcdef123456", collect))
	assert.Equal(t, TypeConfirmation, frames[1].Type)
	sent := <-got
	assert.Equal(t, "confirm_payment", sent["type"])
	assert.Equal(t, "s1", sent["sessionId"])

	require.NoError(t, c.Chat("more", collect))
	require.Len(t, frames, 5)
	assert.Equal(t, TypeComplete, frames[4].Type)
	assert.Equal(t, "s1", (<-got)["sessionId"])
}

func TestFrameTerminal(t *testing.T) {
	assert.True(t, Frame{Type: TypeComplete}.Terminal())
	assert.True(t, Frame{Type: TypeError, Error: "bad"}.Terminal())
	assert.False(t, Frame{Type: TypeError, Content: "agent failed"}.Terminal())
	assert.False(t, Frame{Type: "thinking"}.Terminal())
}
