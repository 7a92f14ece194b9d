package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/paygate/internal/domain"
)

// Chat accepts a user message. Unpaid sessions get 402 with a payment challenge;
// paid sessions get the agent's reply as server-sent events.
// POST /api/chat
func (h *Handler) Chat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "", "invalid request body")
	}

	ctx := c.Request().Context()
	res, err := h.service.HandleMessage(ctx, req.Message, req.SessionID)
	if err != nil {
		return h.fail(c, err)
	}
	if res.Challenge != nil {
		return c.JSON(http.StatusPaymentRequired, res.Challenge)
	}
	return h.streamEvents(c, res.SessionID, res.Events)
}

// streamEvents writes every event as an SSE frame and flushes after each one. The
// channel is drained even if the client goes away so the relay can finish.
func (h *Handler) streamEvents(c echo.Context, sessionID string, events <-chan domain.StreamEvent) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)

	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			writeErr = err
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
			h.logger.Debug().Err(err).Str("session_id", sessionID).Msg("client went away mid-stream")
			writeErr = err
			continue
		}
		w.Flush()
	}
	return nil
}

// ConfirmPayment verifies a payment reference and unlocks the session.
// POST /api/chat/confirm-payment
func (h *Handler) ConfirmPayment(c echo.Context) error {
	var req domain.ConfirmPaymentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "", "invalid request body")
	}

	conf, err := h.service.ConfirmPayment(c.Request().Context(), req.SessionID, req.TxHash)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, conf)
}
