package model

// TaskStatus tracks a task through its round. Transitions only move
// forward: ASSIGNED -> SUBMITTED -> (APPROVED | REVISION_REQUESTED);
// REVISION_REQUESTED loops back to SUBMITTED on resubmission.
type TaskStatus string

const (
	TaskAssigned          TaskStatus = "ASSIGNED"
	TaskSubmitted         TaskStatus = "SUBMITTED"
	TaskApproved          TaskStatus = "APPROVED"
	TaskRevisionRequested TaskStatus = "REVISION_REQUESTED"
)

// IsTerminal reports whether the task needs no further worker activity
// this round.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskApproved
}

// DeliverableStandard is what every submission for a task must satisfy
// before the supervisor even sees it.
type DeliverableStandard struct {
	MinSources       int  `json:"min_sources"`
	MaxQuoteChars    int  `json:"max_quote_chars"`
	RequireScopeTags bool `json:"require_scope_tags"`
}

// Task is one sub-question assigned to exactly one worker slot for
// exactly one round.
type Task struct {
	ID             string              `json:"id"`
	Round          int                 `json:"round"`
	Slot           int                 `json:"slot"` // Worker slot, 1-based
	Text           string              `json:"text"`
	PropositionIDs []string            `json:"proposition_ids"`
	Standard       DeliverableStandard `json:"standard"`
	Status         TaskStatus          `json:"status"`
	Duplicated     bool                `json:"duplicated,omitempty"` // Fallback double-assignment of a proposition
	Revisions      int                 `json:"revisions"`            // Completed revision cycles
	Submissions    []Submission        `json:"submissions,omitempty"`
	Reviews        []ReviewVerdict     `json:"reviews,omitempty"`
	Caveats        []string            `json:"caveats,omitempty"` // Issues left open by a forced approval
}

// LatestSubmission returns the submission currently under (or past)
// review, or nil if the worker has not submitted yet.
func (t *Task) LatestSubmission() *Submission {
	if len(t.Submissions) == 0 {
		return nil
	}
	return &t.Submissions[len(t.Submissions)-1]
}

// Submission is a worker's answer to a task. Superseded submissions are
// retained on the task for audit.
type Submission struct {
	TaskID      string             `json:"task_id"`
	Slot        int                `json:"slot"`
	Round       int                `json:"round"`
	Revision    int                `json:"revision"` // 0 for the first submission
	ShortAnswer string             `json:"short_answer"`
	Findings    string             `json:"findings"`
	Citations   []Citation         `json:"citations"`
	Verdicts    map[string]Verdict `json:"verdicts,omitempty"` // Partial verdict per proposition ID
}

// ReviewDecision is the supervisor's judgment on one submission.
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "APPROVE"
	ReviewRevise  ReviewDecision = "REVISE"
	// ReviewApproveWithCaveat is the gate's override once the revision
	// cap is exhausted; the open issues travel as caveats.
	ReviewApproveWithCaveat ReviewDecision = "APPROVE_WITH_CAVEAT"
)

// ReviewVerdict is the outcome of one review cycle for one submission.
type ReviewVerdict struct {
	TaskID   string         `json:"task_id"`
	Revision int            `json:"revision"`
	Decision ReviewDecision `json:"decision"`
	Digest   string         `json:"digest,omitempty"` // Forwarded to the manager on approval
	Issues   []string       `json:"issues,omitempty"` // Routed back to the worker on revision
}
