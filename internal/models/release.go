package models

import "time"

// ReleaseOutcome lists credentials and how many there are.
type ReleaseOutcome struct {
	Tokens []string `json:"tokens"`
	Count  int      `json:"count"`
}

// ReleaseReport is the outcome of removing a set of credentials from one resource.
// Error is set only when the run could not start.
type ReleaseReport struct {
	Success    bool           `json:"success"`
	ResourceID string         `json:"server_id"`
	Released   ReleaseOutcome `json:"released"`
	Failed     ReleaseOutcome `json:"failed"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"start_time"`
	EndedAt    time.Time      `json:"end_time"`
	TimeTaken  float64        `json:"time_taken"` // seconds
}
