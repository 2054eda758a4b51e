// Package round drives the coordination protocol: plan a round, dispatch
// tasks to the worker pool, wait for every review cycle to resolve,
// aggregate approved findings, then continue or finalize.
package round

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"veridict/internal/dispatch"
	"veridict/internal/envelope"
	"veridict/internal/model"
	"veridict/internal/review"
	"veridict/internal/tracker"
	"veridict/internal/worker"
)

// State is the coordinator's position in the round state machine.
type State string

const (
	StatePlanning        State = "PLANNING"
	StateDispatched      State = "DISPATCHED"
	StateAwaitingReviews State = "AWAITING_REVIEWS"
	StateAggregating     State = "AGGREGATING"
	StateContinue        State = "CONTINUE"
	StateFinalizing      State = "FINALIZING"
)

// Executor is the collaborator that produces a submission for a task.
// On resubmission, feedback carries the supervisor's REVISE verdict.
// Implementations must honor ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, task model.Task, feedback *model.ReviewVerdict) (model.Submission, error)
}

// Coordinator runs all rounds of one session. It is single-use: one
// coordinator per session.
type Coordinator struct {
	cfg      model.ProtocolConfig
	planner  *dispatch.Planner
	gate     *review.Gate
	executor Executor
	trk      *tracker.Tracker
	log      *zap.Logger

	// sessionMu guards every write to the session aggregate, so the
	// facade's poll path can read it while rounds run.
	sessionMu sync.Locker

	mu    sync.Mutex
	state State
	round int
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// New creates a coordinator over an already-extracted tracker.
func New(cfg model.ProtocolConfig, planner *dispatch.Planner, gate *review.Gate, executor Executor, trk *tracker.Tracker, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		planner:   planner,
		gate:      gate,
		executor:  executor,
		trk:       trk,
		log:       log,
		sessionMu: noopLocker{},
		state:     StatePlanning,
	}
}

// UseSessionLock sets the lock taken for every session write. Callers
// that read the session from other goroutines while Run is in flight
// must pass the same lock they read under.
func (c *Coordinator) UseSessionLock(mu sync.Locker) {
	if mu != nil {
		c.sessionMu = mu
	}
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Round returns the current round number (1-based, 0 before the first
// round opens).
func (c *Coordinator) Round() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives rounds until finalization and writes the terminal report
// onto the session. It returns an error only for cancellation or an
// unrecoverable collaborator failure; cap exhaustion is absorbed into a
// forced finalize.
func (c *Coordinator) Run(ctx context.Context, session *model.Session) error {
	var hints dispatch.GapHints
	forced := false

	for r := 1; r <= c.cfg.RoundCap; r++ {
		c.mu.Lock()
		c.round = r
		c.state = StatePlanning
		c.mu.Unlock()

		tasks, err := c.planner.PlanRound(r, c.trk.Propositions(), hints)
		if err != nil {
			// Nothing left to assign: fatal for the session, forced
			// UNDETERMINED-leaning finalize rather than a crash.
			c.log.Warn("dispatch failed, forcing finalize",
				zap.String("session", session.ID), zap.Int("round", r), zap.Error(err))
			forced = true
			break
		}
		c.setState(StateDispatched)
		c.log.Info("round dispatched",
			zap.String("session", session.ID),
			zap.Int("round", r),
			zap.Int("tasks", len(tasks)))

		rnd := model.Round{Number: r, Tasks: tasks}

		if err := c.runRound(ctx, &rnd); err != nil {
			c.appendRound(session, rnd)
			return err
		}
		c.appendRound(session, rnd)

		c.setState(StateAggregating)
		cov := c.trk.CoverageReport()
		c.log.Info("round aggregated",
			zap.String("session", session.ID),
			zap.Int("round", r),
			zap.Strings("covered", cov.Covered),
			zap.Strings("conflicting", cov.Conflicting),
			zap.Strings("unresolved", cov.Unresolved))

		if cov.Resolved() {
			break
		}
		if r == c.cfg.RoundCap {
			forced = true
			c.log.Info("round cap reached, forcing finalize",
				zap.String("session", session.ID), zap.Int("round", r))
			break
		}
		c.setState(StateContinue)
		hints = dispatch.FromCoverage(cov)
	}

	c.setState(StateFinalizing)
	return c.finalize(session, forced)
}

// appendRound records a completed (or interrupted) round on the session.
func (c *Coordinator) appendRound(session *model.Session, rnd model.Round) {
	c.sessionMu.Lock()
	session.Rounds = append(session.Rounds, rnd)
	c.sessionMu.Unlock()
}

// runRound executes every task cycle of one round on the slot pool and
// blocks on the join barrier. On return every task is terminal unless
// the context was cancelled or a collaborator failed.
func (c *Coordinator) runRound(ctx context.Context, rnd *model.Round) error {
	c.setState(StateAwaitingReviews)

	pool := worker.NewPool(ctx, c.cfg.Workers)
	pool.Start()
	for i := range rnd.Tasks {
		pool.Submit(&taskCycle{
			task:     &rnd.Tasks[i],
			executor: c.executor,
			gate:     c.gate,
			trk:      c.trk,
			workers:  c.cfg.Workers,
			log:      c.log,
		})
	}
	results := pool.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, res := range results {
		if err := res.GetError(); err != nil {
			return fmt.Errorf("round %d: %w", rnd.Number, err)
		}
	}
	return nil
}

// finalize freezes verdicts, assembles the terminal report, and marks
// the session FINALIZED. A session finalizes exactly once.
func (c *Coordinator) finalize(session *model.Session, forced bool) error {
	verdict, props := c.trk.FinalVerdict()
	cov := c.trk.CoverageReport()

	report := &model.Report{
		SessionID:   session.ID,
		Claim:       session.Claim.Text,
		Verdict:     verdict,
		Conflicts:   cov.Conflicting,
		Unresolved:  cov.Unresolved,
		Forced:      forced,
		RoundsRun:   len(session.Rounds),
		GeneratedAt: time.Now().UTC(),
	}
	for _, p := range props {
		report.Propositions = append(report.Propositions, model.PropositionReport{
			ID:       p.ID,
			Text:     p.Text,
			Verdict:  p.Verdict,
			Evidence: p.Evidence,
		})
	}
	for _, rnd := range session.Rounds {
		for _, t := range rnd.Tasks {
			report.Caveats = append(report.Caveats, t.Caveats...)
		}
	}

	env := &envelope.Envelope{
		Sender:   envelope.RoleManager,
		Receiver: envelope.RoleBoss,
		Message: envelope.Payload{
			Kind:        envelope.KindFinalReport,
			FinalReport: &envelope.FinalReport{Report: *report},
		},
	}
	if err := envelope.Validate(env, c.cfg.Workers); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	now := time.Now().UTC()
	c.sessionMu.Lock()
	session.Propositions = props
	session.Report = report
	session.Verdict = verdict
	session.Status = model.SessionFinalized
	session.FinalizedAt = &now
	c.sessionMu.Unlock()

	c.log.Info("session finalized",
		zap.String("session", session.ID),
		zap.String("verdict", string(verdict)),
		zap.Bool("forced", forced),
		zap.Int("rounds", report.RoundsRun))
	return nil
}

// taskCycle is one task's worker/supervisor loop: execute, review,
// revise until the gate returns a terminal decision. Cycles for
// different tasks run concurrently; within a task the loop is strictly
// sequential, so a slot never has two submissions in flight.
type taskCycle struct {
	task     *model.Task
	executor Executor
	gate     *review.Gate
	trk      *tracker.Tracker
	workers  int
	log      *zap.Logger
}

// taskResult reports a cycle outcome to the round barrier.
type taskResult struct {
	taskID string
	err    error
}

func (r *taskResult) GetError() error { return r.err }

func (j *taskCycle) Execute(ctx context.Context, slot int) worker.Result {
	if err := j.dispatchEnvelope(); err != nil {
		return &taskResult{taskID: j.task.ID, err: err}
	}

	var feedback *model.ReviewVerdict
	for {
		if err := ctx.Err(); err != nil {
			return &taskResult{taskID: j.task.ID, err: err}
		}

		sub, err := j.executor.Execute(ctx, *j.task, feedback)
		if err != nil {
			return &taskResult{taskID: j.task.ID, err: fmt.Errorf("task %s: execute: %w", j.task.ID, err)}
		}
		sub.TaskID = j.task.ID
		sub.Slot = j.task.Slot
		sub.Round = j.task.Round
		sub.Revision = len(j.task.Submissions)

		if err := j.submissionEnvelope(sub); err != nil {
			return &taskResult{taskID: j.task.ID, err: err}
		}

		verdict, err := j.gate.Review(ctx, j.task, sub)
		if err != nil {
			return &taskResult{taskID: j.task.ID, err: fmt.Errorf("task %s: %w", j.task.ID, err)}
		}

		switch verdict.Decision {
		case model.ReviewApprove, model.ReviewApproveWithCaveat:
			if err := j.verdictEnvelope(verdict, envelope.RoleManager, envelope.KindReviewApproval); err != nil {
				return &taskResult{taskID: j.task.ID, err: err}
			}
			if err := j.recordFindings(sub, verdict); err != nil {
				return &taskResult{taskID: j.task.ID, err: err}
			}
			return &taskResult{taskID: j.task.ID}
		case model.ReviewRevise:
			if err := j.verdictEnvelope(verdict, envelope.WorkerRole(j.task.Slot), envelope.KindReviewRevision); err != nil {
				return &taskResult{taskID: j.task.ID, err: err}
			}
			j.log.Debug("revision requested",
				zap.String("task", j.task.ID),
				zap.Int("round", j.task.Round),
				zap.Int("revision", verdict.Revision),
				zap.Strings("issues", verdict.Issues))
			feedback = &verdict
		default:
			return &taskResult{taskID: j.task.ID, err: fmt.Errorf("task %s: unknown review decision %q", j.task.ID, verdict.Decision)}
		}
	}
}

// recordFindings folds the approved submission into the shared tracker.
// The tracker serializes concurrent completions internally.
func (j *taskCycle) recordFindings(sub model.Submission, verdict model.ReviewVerdict) error {
	for _, propID := range j.task.PropositionIDs {
		v, ok := sub.Verdicts[propID]
		if !ok || !v.IsTerminal() {
			v = model.VerdictUndetermined
		}
		f := model.Finding{
			Round:         j.task.Round,
			PropositionID: propID,
			Verdict:       v,
			Citations:     sub.Citations,
		}
		if err := j.trk.RecordFinding(f); err != nil {
			return fmt.Errorf("task %s: %w", j.task.ID, err)
		}
	}
	return nil
}

// Envelope checks: every protocol hop is framed and schema-validated
// before anyone acts on it. A SchemaError rejects the message outright.

func (j *taskCycle) dispatchEnvelope() error {
	env := &envelope.Envelope{
		Sender:   envelope.RoleManager,
		Receiver: envelope.WorkerRole(j.task.Slot),
		Message: envelope.Payload{
			Kind:           envelope.KindTaskAssignment,
			TaskAssignment: &envelope.TaskAssignment{Task: *j.task},
		},
	}
	return envelope.Validate(env, j.workers)
}

func (j *taskCycle) submissionEnvelope(sub model.Submission) error {
	env := &envelope.Envelope{
		Sender:   envelope.WorkerRole(j.task.Slot),
		Receiver: envelope.RoleSupervisor,
		Message: envelope.Payload{
			Kind:             envelope.KindWorkerSubmission,
			WorkerSubmission: &envelope.WorkerSubmission{Submission: sub},
		},
	}
	return envelope.Validate(env, j.workers)
}

func (j *taskCycle) verdictEnvelope(v model.ReviewVerdict, receiver envelope.Role, kind envelope.Kind) error {
	msg := envelope.Payload{Kind: kind}
	switch kind {
	case envelope.KindReviewApproval:
		msg.ReviewApproval = &envelope.ReviewApproval{Verdict: v}
	case envelope.KindReviewRevision:
		msg.ReviewRevision = &envelope.ReviewRevision{Verdict: v}
	}
	env := &envelope.Envelope{
		Sender:   envelope.RoleSupervisor,
		Receiver: receiver,
		Message:  msg,
	}
	return envelope.Validate(env, j.workers)
}
