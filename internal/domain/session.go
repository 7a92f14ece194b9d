package domain

import "time"

// Session is the unit of conversation and payment state for one client.
type Session struct {
	ID         string        `json:"id"`
	IsPaid     bool          `json:"isPaid"`
	PaymentRef string        `json:"paymentRef,omitempty"`
	JobID      string        `json:"jobId,omitempty"`
	Messages   []ChatMessage `json:"messages"`
	FileRefs   []string      `json:"fileRefs"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// ChatMessage is one entry of a session transcript. It is immutable once appended.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = append([]ChatMessage(nil), s.Messages...)
	c.FileRefs = append([]string(nil), s.FileRefs...)
	if c.Messages == nil {
		c.Messages = []ChatMessage{}
	}
	if c.FileRefs == nil {
		c.FileRefs = []string{}
	}
	return &c
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID           string    `json:"id"`
	IsPaid       bool      `json:"isPaid"`
	JobID        string    `json:"jobId,omitempty"`
	MessageCount int       `json:"messageCount"`
	FileCount    int       `json:"fileCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Summary returns the listing view of the session.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		IsPaid:       s.IsPaid,
		JobID:        s.JobID,
		MessageCount: len(s.Messages),
		FileCount:    len(s.FileRefs),
		CreatedAt:    s.CreatedAt,
	}
}
