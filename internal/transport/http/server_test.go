package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/paygate/internal/domain"
)

var echoParam = regexp.MustCompile(`:(\w+)`)

func TestCapabilitiesDocumentCoversRoutes(t *testing.T) {
	env := newTestEnv(t)
	e := NewServer(env.cfg, env.svc)

	doc := CapabilitiesDocument()
	require.NoError(t, doc.Validate(context.Background()))

	for _, route := range e.Routes() {
		if !strings.HasPrefix(route.Path, "/api/") {
			continue
		}
		path := echoParam.ReplaceAllString(route.Path, "{$1}")
		item := doc.Paths.Value(path)
		if item == nil {
			t.Errorf("route %s %s missing from capabilities", route.Method, path)
			continue
		}
		if item.GetOperation(route.Method) == nil {
			t.Errorf("route %s %s has no operation", route.Method, path)
		}
	}
}

func TestServerServesCapabilitiesAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	e := NewServer(env.cfg, env.svc)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/capabilities", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"openapi":"3.0.3"`)
	assert.Contains(t, rec.Body.String(), "/api/chat/confirm-payment")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paygate_active_streams")
}

func TestServerRateLimits(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.RateLimitRPS = 0.001
	env.cfg.RateLimitBurst = 2
	e := NewServer(env.cfg, env.svc)

	var codes []int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agent", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Scrapes are never limited.
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestChatSocket(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.RateLimitRPS = 0
	srv := httptest.NewServer(NewServer(env.cfg, env.svc))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{Type: FrameChat, Message: "Hello"}))
	frame := readFrame(t, conn)
	require.Equal(t, FramePaymentRequired, frame["type"])
	sessionID, _ := frame["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	// The session is remembered by the connection.
	require.NoError(t, conn.WriteJSON(clientFrame{Type: FrameConfirmPayment, TxHash: validRef}))
	frame = readFrame(t, conn)
	require.Equal(t, FrameConfirmation, frame["type"])
	assert.Equal(t, domain.ConfirmationStatusConfirmed, frame["status"])
	jobID, _ := frame["jobId"].(string)
	require.NotEmpty(t, jobID)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: FrameChat, Message: "Go on"}))
	var kinds []string
	for {
		frame = readFrame(t, conn)
		kinds = append(kinds, frame["type"].(string))
		if frame["type"] == string(domain.EventComplete) {
			assert.Equal(t, jobID, frame["jobId"])
			break
		}
	}
	assert.Equal(t, []string{"text", "text", "complete"}, kinds)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame = readFrame(t, conn)
	assert.Equal(t, FrameError, frame["type"])
	assert.Equal(t, "invalid JSON message", frame["error"])

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "dance"}))
	frame = readFrame(t, conn)
	assert.Equal(t, FrameError, frame["type"])

	require.NoError(t, conn.WriteJSON(clientFrame{Type: FrameChat, Message: ""}))
	frame = readFrame(t, conn)
	assert.Equal(t, FrameError, frame["type"])
	assert.Equal(t, "message", frame["field"])
}
