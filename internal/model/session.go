package model

import "time"

// SessionStatus is the lifecycle state of a verification session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionFinalized SessionStatus = "FINALIZED"
	SessionAborted   SessionStatus = "ABORTED"
)

// Round is one bounded execution unit: a full set of tasks (one per
// worker slot) driven to terminal per-task state. Rounds are numbered
// from 1 and strictly sequential.
type Round struct {
	Number int    `json:"number"`
	Tasks  []Task `json:"tasks"`
}

// Session is the aggregate root. It exclusively owns its rounds, tasks,
// submissions and reviews; there is no cross-session sharing.
type Session struct {
	ID           string        `json:"id"`
	Claim        Claim         `json:"claim"`
	Propositions []Proposition `json:"propositions"`
	Rounds       []Round       `json:"rounds"`
	Status       SessionStatus `json:"status"`
	Verdict      Verdict       `json:"verdict,omitempty"`
	Report       *Report       `json:"report,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	FinalizedAt  *time.Time    `json:"finalized_at,omitempty"`
}
