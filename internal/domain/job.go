package domain

import "time"

// Job tracks the unit of work a payment authorizes.
type Job struct {
	ID        string    `json:"jobId"`
	SessionID string    `json:"sessionId"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobView is the polling representation of a job.
type JobView struct {
	Job
	IsComplete     bool `json:"isComplete"`
	ShouldContinue bool `json:"shouldContinue"`
}

// View derives the polling flags for the job.
func (j Job) View() JobView {
	return JobView{
		Job:            j,
		IsComplete:     j.Status == JobStatusCompleted,
		ShouldContinue: j.Status == JobStatusPending || j.Status == JobStatusInProgress,
	}
}
