package store

import "time"

// Session is one scheduler run of a pipeline.
type Session struct {
	ID        string     `json:"id"`
	Pipeline  string     `json:"pipeline"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	Runs      int64      `json:"runs"`
}

// Session statuses.
const (
	StatusRunning   = "running"
	StatusDrained   = "drained"
	StatusStopped   = "stopped"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// StepRecord is one completed unit step.
type StepRecord struct {
	SessionID string             `json:"session_id"`
	Run       int64              `json:"run"`
	Unit      string             `json:"unit"`
	Kind      string             `json:"kind"`
	State     string             `json:"state"`
	Steps     int64              `json:"steps"`
	Duration  time.Duration      `json:"duration_ns"`
	Consumed  int64              `json:"consumed"`
	Total     int64              `json:"total"`
	Quality   map[string]float64 `json:"quality,omitempty"`
}

// FaultRecord is one step fault.
type FaultRecord struct {
	SessionID string `json:"session_id"`
	Run       int64  `json:"run"`
	Unit      string `json:"unit"`
	Message   string `json:"message"`
}

// Trace is a session with everything recorded for it.
type Trace struct {
	Session Session       `json:"session"`
	Steps   []StepRecord  `json:"steps"`
	Faults  []FaultRecord `json:"faults"`
}
