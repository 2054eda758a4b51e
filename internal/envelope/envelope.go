// Package envelope defines the JSON wire format every role exchanges and
// validates messages before any handler is allowed to act on them.
package envelope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"veridict/internal/model"
)

// Role identifies a protocol participant. Worker roles are numbered
// worker_1..worker_N for a session with N slots.
type Role string

const (
	RoleBoss       Role = "boss"
	RoleManager    Role = "manager_1"
	RoleSupervisor Role = "supervisor_1"
)

// WorkerRole returns the role identifier for a worker slot (1-based).
func WorkerRole(slot int) Role {
	return Role("worker_" + strconv.Itoa(slot))
}

// IsWorker reports whether the role is a worker slot, and which one.
func (r Role) IsWorker() (int, bool) {
	rest, ok := strings.CutPrefix(string(r), "worker_")
	if !ok {
		return 0, false
	}
	slot, err := strconv.Atoi(rest)
	if err != nil || slot < 1 {
		return 0, false
	}
	return slot, true
}

// Kind discriminates the payload union.
type Kind string

const (
	KindTaskAssignment   Kind = "task_assignment"
	KindWorkerSubmission Kind = "worker_submission"
	KindReviewRevision   Kind = "review_revision"
	KindReviewApproval   Kind = "review_approval"
	KindFinalReport      Kind = "final_report"
)

// Payload is the tagged union of message bodies. Exactly the variant
// named by Kind must be set.
type Payload struct {
	Kind Kind `json:"kind"`

	TaskAssignment   *TaskAssignment   `json:"task_assignment,omitempty"`
	WorkerSubmission *WorkerSubmission `json:"worker_submission,omitempty"`
	ReviewRevision   *ReviewRevision   `json:"review_revision,omitempty"`
	ReviewApproval   *ReviewApproval   `json:"review_approval,omitempty"`
	FinalReport      *FinalReport      `json:"final_report,omitempty"`
}

// TaskAssignment carries one task from the manager to a worker slot.
type TaskAssignment struct {
	Task model.Task `json:"task"`
}

// WorkerSubmission carries a worker's answer to the supervisor.
type WorkerSubmission struct {
	Submission model.Submission `json:"submission"`
}

// ReviewRevision routes a structured issue list back to the same worker
// slot for the same task.
type ReviewRevision struct {
	Verdict model.ReviewVerdict `json:"verdict"`
}

// ReviewApproval forwards an approval digest to the manager.
type ReviewApproval struct {
	Verdict model.ReviewVerdict `json:"verdict"`
}

// FinalReport carries the terminal report from the manager to the boss.
type FinalReport struct {
	Report model.Report `json:"report"`
}

// Envelope is the outer frame of every inter-role message.
type Envelope struct {
	Sender   Role    `json:"sender"`
	Receiver Role    `json:"receiver"`
	Message  Payload `json:"message"`
}

// route is the allowed (sender class, receiver class) pair per kind.
// Classes: "boss", "manager", "worker", "supervisor".
var routes = map[Kind][2]string{
	KindTaskAssignment:   {"manager", "worker"},
	KindWorkerSubmission: {"worker", "supervisor"},
	KindReviewRevision:   {"supervisor", "worker"},
	KindReviewApproval:   {"supervisor", "manager"},
	KindFinalReport:      {"manager", "boss"},
}

// Validate checks the envelope against the protocol schema for a session
// with the given worker count. Any failure is a hard reject: the caller
// must not act on a partially valid message.
func Validate(env *Envelope, workers int) error {
	if env == nil {
		return &model.SchemaError{Field: "envelope", Reason: "is missing"}
	}
	if err := validateRole("sender", env.Sender, workers); err != nil {
		return err
	}
	if err := validateRole("receiver", env.Receiver, workers); err != nil {
		return err
	}
	if err := validatePayload(&env.Message); err != nil {
		return err
	}

	route := routes[env.Message.Kind]
	if roleClass(env.Sender) != route[0] {
		return &model.SchemaError{
			Field:  "sender",
			Reason: fmt.Sprintf("must be a %s for kind %q", route[0], env.Message.Kind),
		}
	}
	if roleClass(env.Receiver) != route[1] {
		return &model.SchemaError{
			Field:  "receiver",
			Reason: fmt.Sprintf("must be a %s for kind %q", route[1], env.Message.Kind),
		}
	}
	return nil
}

func validateRole(field string, r Role, workers int) error {
	switch r {
	case RoleBoss, RoleManager, RoleSupervisor:
		return nil
	case "":
		return &model.SchemaError{Field: field, Reason: "is missing"}
	}
	slot, ok := r.IsWorker()
	if !ok {
		return &model.SchemaError{Field: field, Reason: fmt.Sprintf("has unknown role %q", r)}
	}
	if workers > 0 && slot > workers {
		return &model.SchemaError{
			Field:  field,
			Reason: fmt.Sprintf("worker slot %d exceeds pool size %d", slot, workers),
		}
	}
	return nil
}

func validatePayload(p *Payload) error {
	set := 0
	var mismatch string
	check := func(kind Kind, present bool) {
		if present {
			set++
			if p.Kind != kind {
				mismatch = string(kind)
			}
		}
	}
	check(KindTaskAssignment, p.TaskAssignment != nil)
	check(KindWorkerSubmission, p.WorkerSubmission != nil)
	check(KindReviewRevision, p.ReviewRevision != nil)
	check(KindReviewApproval, p.ReviewApproval != nil)
	check(KindFinalReport, p.FinalReport != nil)

	switch p.Kind {
	case KindTaskAssignment, KindWorkerSubmission, KindReviewRevision, KindReviewApproval, KindFinalReport:
	case "":
		return &model.SchemaError{Field: "message.kind", Reason: "is missing"}
	default:
		return &model.SchemaError{Field: "message.kind", Reason: fmt.Sprintf("has unknown value %q", p.Kind)}
	}
	if set == 0 {
		return &model.SchemaError{Field: "message." + string(p.Kind), Reason: "is missing"}
	}
	if set > 1 {
		return &model.SchemaError{Field: "message", Reason: "has more than one payload variant set"}
	}
	if mismatch != "" {
		return &model.SchemaError{
			Field:  "message." + mismatch,
			Reason: fmt.Sprintf("does not match kind %q", p.Kind),
		}
	}
	return validateBody(p)
}

// validateBody checks the required fields of the selected variant.
func validateBody(p *Payload) error {
	switch p.Kind {
	case KindTaskAssignment:
		t := p.TaskAssignment.Task
		if t.ID == "" {
			return &model.SchemaError{Field: "task.id", Reason: "is missing"}
		}
		if t.Slot < 1 {
			return &model.SchemaError{Field: "task.slot", Reason: "must be >= 1"}
		}
		if t.Text == "" {
			return &model.SchemaError{Field: "task.text", Reason: "is missing"}
		}
	case KindWorkerSubmission:
		s := p.WorkerSubmission.Submission
		if s.TaskID == "" {
			return &model.SchemaError{Field: "submission.task_id", Reason: "is missing"}
		}
		if s.Slot < 1 {
			return &model.SchemaError{Field: "submission.slot", Reason: "must be >= 1"}
		}
	case KindReviewRevision:
		v := p.ReviewRevision.Verdict
		if v.TaskID == "" {
			return &model.SchemaError{Field: "verdict.task_id", Reason: "is missing"}
		}
		if v.Decision != model.ReviewRevise {
			return &model.SchemaError{Field: "verdict.decision", Reason: `must be "REVISE"`}
		}
		if len(v.Issues) == 0 {
			return &model.SchemaError{Field: "verdict.issues", Reason: "is missing"}
		}
	case KindReviewApproval:
		v := p.ReviewApproval.Verdict
		if v.TaskID == "" {
			return &model.SchemaError{Field: "verdict.task_id", Reason: "is missing"}
		}
		if v.Decision != model.ReviewApprove && v.Decision != model.ReviewApproveWithCaveat {
			return &model.SchemaError{Field: "verdict.decision", Reason: `must be "APPROVE" or "APPROVE_WITH_CAVEAT"`}
		}
	case KindFinalReport:
		r := p.FinalReport.Report
		if r.SessionID == "" {
			return &model.SchemaError{Field: "report.session_id", Reason: "is missing"}
		}
		if !r.Verdict.IsTerminal() {
			return &model.SchemaError{Field: "report.verdict", Reason: "must be terminal"}
		}
	}
	return nil
}

func roleClass(r Role) string {
	switch r {
	case RoleBoss:
		return "boss"
	case RoleManager:
		return "manager"
	case RoleSupervisor:
		return "supervisor"
	}
	if _, ok := r.IsWorker(); ok {
		return "worker"
	}
	return ""
}

// Marshal validates and serializes an envelope.
func Marshal(env *Envelope, workers int) ([]byte, error) {
	if err := Validate(env, workers); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal parses and validates an envelope from JSON.
func Unmarshal(data []byte, workers int) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &model.SchemaError{Field: "envelope", Reason: "is not valid JSON: " + err.Error()}
	}
	if err := Validate(&env, workers); err != nil {
		return nil, err
	}
	return &env, nil
}
