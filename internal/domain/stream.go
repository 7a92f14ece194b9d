package domain

// StreamEvent is one unit of the live output protocol. It is never persisted.
type StreamEvent struct {
	Kind    EventKind `json:"type"`
	Content string    `json:"content,omitempty"`
	JobID   string    `json:"jobId,omitempty"`
}

// TextEvent builds a text event.
func TextEvent(content string) StreamEvent {
	return StreamEvent{Kind: EventText, Content: content}
}

// CompleteEvent builds the terminal event of a stream.
func CompleteEvent(jobID string) StreamEvent {
	return StreamEvent{Kind: EventComplete, JobID: jobID}
}

// ErrorEvent builds an error event.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Content: message}
}
