// Package client is a WebSocket client for the gateway's chat endpoint.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// Frame types, mirrored from the server.
const (
	TypeChat            = "chat"
	TypeConfirmPayment  = "confirm_payment"
	TypePaymentRequired = "payment_required"
	TypeConfirmation    = "confirmation"
	TypeError           = "error"
	TypeComplete        = "complete"
)

// Frame is any server frame. Only the fields of its type are set.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	JobID     string `json:"jobId,omitempty"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Field     string `json:"field,omitempty"`
	TxStatus  string `json:"txStatus,omitempty"`
	Payment   *struct {
		Amount   string `json:"amount"`
		Token    string `json:"token"`
		Receiver string `json:"receiver"`
	} `json:"payment,omitempty"`
}

// Terminal reports whether no further frames follow for the current request.
func (f Frame) Terminal() bool {
	switch f.Type {
	case TypeComplete, TypePaymentRequired, TypeConfirmation:
		return true
	case TypeError:
		// Protocol errors end the request; error events are followed by complete.
		return f.Error != ""
	}
	return false
}

type outbound struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
}

// Client represents a WebSocket client.
type Client struct {
	conn      *websocket.Conn
	sessionID string
}

// Dial connects to the chat endpoint, e.g. ws://localhost:4000/api/chat/ws.
func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

// SessionID returns the session learned from the server, if any.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Close closes the client connection.
func (c *Client) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Chat sends a user message and calls fn for every frame until the request ends.
func (c *Client) Chat(text string, fn func(Frame)) error {
	return c.roundTrip(outbound{Type: TypeChat, Message: text, SessionID: c.sessionID}, fn)
}

// ConfirmPayment submits a transaction hash for the current session.
func (c *Client) ConfirmPayment(txHash string, fn func(Frame)) error {
	if c.sessionID == "" {
		return fmt.Errorf("no session yet: send a message first")
	}
	return c.roundTrip(outbound{Type: TypeConfirmPayment, SessionID: c.sessionID, TxHash: txHash}, fn)
}

func (c *Client) roundTrip(msg outbound, fn func(Frame)) error {
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("unmarshal frame: %w", err)
		}
		if frame.SessionID != "" {
			c.sessionID = frame.SessionID
		}
		fn(frame)
		if frame.Terminal() {
			return nil
		}
	}
}
