package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/xiaot623/paygate/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 64 << 10
)

// Client frame types.
const (
	FrameChat           = "chat"
	FrameConfirmPayment = "confirm_payment"
)

// Server frame types. Stream events are sent as-is and carry their own kind.
const (
	FramePaymentRequired = "payment_required"
	FrameConfirmation    = "confirmation"
	FrameError           = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is any frame a client may send.
type clientFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
}

type challengeFrame struct {
	Type string `json:"type"`
	*domain.PaymentChallenge
}

type confirmationFrame struct {
	Type string `json:"type"`
	*domain.Confirmation
}

type errorFrame struct {
	Type string `json:"type"`
	domain.ErrorResponse
}

// socket is one websocket client. Only the write pump writes to conn.
type socket struct {
	conn      *websocket.Conn
	send      chan any
	sessionID string
	logger    zerolog.Logger
}

// ChatSocket serves the chat protocol over a websocket: the same payment gate and
// agent stream as POST /api/chat, with confirmations on the same connection.
// GET /api/chat/ws
func (h *Handler) ChatSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	sock := &socket{
		conn:   conn,
		send:   make(chan any, 16),
		logger: h.logger.With().Str("remote", c.RealIP()).Logger(),
	}
	inbox := make(chan []byte, 4)

	g, ctx := errgroup.WithContext(c.Request().Context())
	g.Go(func() error { return sock.readPump(ctx, inbox) })
	g.Go(func() error { return sock.writePump(ctx) })
	g.Go(func() error { return h.dispatch(ctx, sock, inbox) })

	if err := g.Wait(); err != nil && !isNormalClose(err) {
		sock.logger.Debug().Err(err).Msg("websocket closed")
	}
	return nil
}

func isNormalClose(err error) bool {
	return errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// readPump reads frames until the connection fails. It always returns an error so
// the group tears down the other pumps.
func (s *socket) readPump(ctx context.Context, inbox chan<- []byte) error {
	defer close(inbox)

	s.conn.SetReadLimit(wsReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return err
		}
		select {
		case inbox <- message:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *socket) writePump(ctx context.Context) error {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				return err
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			// Unblock the read pump.
			_ = s.conn.Close()
			return ctx.Err()
		}
	}
}

func (s *socket) push(ctx context.Context, frame any) bool {
	select {
	case s.send <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// dispatch handles client frames one at a time, so a second chat frame waits for
// the current stream to finish.
func (h *Handler) dispatch(ctx context.Context, s *socket, inbox <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inbox:
			if !ok {
				return nil
			}
			h.handleFrame(ctx, s, raw)
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, s *socket, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.push(ctx, errorFrame{Type: FrameError, ErrorResponse: domain.ErrorResponse{Error: "invalid JSON message"}})
		return
	}
	if frame.SessionID == "" {
		frame.SessionID = s.sessionID
	}

	switch frame.Type {
	case FrameChat:
		h.socketChat(ctx, s, frame)
	case FrameConfirmPayment:
		conf, err := h.service.ConfirmPayment(ctx, frame.SessionID, frame.TxHash)
		if err != nil {
			h.socketError(ctx, s, err)
			return
		}
		s.push(ctx, confirmationFrame{Type: FrameConfirmation, Confirmation: conf})
	default:
		s.push(ctx, errorFrame{Type: FrameError, ErrorResponse: domain.ErrorResponse{Error: "unknown message type: " + frame.Type}})
	}
}

func (h *Handler) socketChat(ctx context.Context, s *socket, frame clientFrame) {
	res, err := h.service.HandleMessage(ctx, frame.Message, frame.SessionID)
	if err != nil {
		h.socketError(ctx, s, err)
		return
	}
	s.sessionID = res.SessionID

	if res.Challenge != nil {
		s.push(ctx, challengeFrame{Type: FramePaymentRequired, PaymentChallenge: res.Challenge})
		return
	}
	for ev := range res.Events {
		s.push(ctx, ev)
	}
}

func (h *Handler) socketError(ctx context.Context, s *socket, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("websocket request failed")
	}
	s.push(ctx, errorFrame{Type: FrameError, ErrorResponse: body})
}
