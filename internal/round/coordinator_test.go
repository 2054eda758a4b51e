package round

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"veridict/internal/dispatch"
	"veridict/internal/model"
	"veridict/internal/review"
	"veridict/internal/tracker"
)

func protocolConfig(workers int) model.ProtocolConfig {
	return model.ProtocolConfig{
		Workers:        workers,
		RoundCap:       3,
		RevisionCap:    2,
		PropositionCap: 5,
		MinSources:     2,
		MaxQuoteChars:  280,
	}
}

func testProps(n int) []model.Proposition {
	props := make([]model.Proposition, n)
	for i := range props {
		props[i] = model.Proposition{
			ID:      fmt.Sprintf("p%d", i+1),
			Text:    fmt.Sprintf("proposition %d", i+1),
			Verdict: model.VerdictPending,
		}
	}
	return props
}

func newSession() *model.Session {
	return &model.Session{
		ID:        "s-1",
		Claim:     model.Claim{Text: "test claim"},
		Status:    model.SessionRunning,
		CreatedAt: time.Now(),
	}
}

// citations builds n complete citations for a proposition, unique per
// round and label so the tracker sees distinct URLs.
func citations(propID string, round, n int, label, timeScope string) []model.Citation {
	out := make([]model.Citation, n)
	for i := range out {
		out[i] = model.Citation{
			Title:       "Article about " + propID,
			Publisher:   "Test Press",
			URL:         fmt.Sprintf("https://example.com/%s/r%d/%s/%d", propID, round, label, i),
			RetrievedAt: time.Now(),
			Quote:       "a short supporting quote",
			ScopeTags:   []model.ScopeTag{{Dimension: model.ScopeTime, Value: timeScope}},
		}
	}
	return out
}

// fakeExecutor drives submissions from a script keyed by task state and
// the per-task attempt count.
type fakeExecutor struct {
	mu       sync.Mutex
	attempts map[string]int
	fn       func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, task model.Task, feedback *model.ReviewVerdict) (model.Submission, error) {
	if err := ctx.Err(); err != nil {
		return model.Submission{}, err
	}
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[task.ID]++
	attempt := f.attempts[task.ID]
	f.mu.Unlock()
	return f.fn(task, feedback, attempt)
}

// goodSubmission answers every assigned proposition with the given
// verdict and enough complete citations.
func goodSubmission(task model.Task, verdict model.Verdict, timeScope string) model.Submission {
	sub := model.Submission{
		ShortAnswer: "verified against independent sources",
		Verdicts:    make(map[string]model.Verdict),
	}
	for _, propID := range task.PropositionIDs {
		sub.Verdicts[propID] = verdict
		sub.Citations = append(sub.Citations, citations(propID, task.Round, 2, fmt.Sprintf("slot%d", task.Slot), timeScope)...)
	}
	return sub
}

type approveReviewer struct{}

func (approveReviewer) Review(ctx context.Context, task model.Task, sub model.Submission) (model.ReviewVerdict, error) {
	return model.ReviewVerdict{Decision: model.ReviewApprove}, nil
}

func newTestCoordinator(cfg model.ProtocolConfig, props []model.Proposition, exec Executor, rev review.Reviewer) (*Coordinator, *tracker.Tracker) {
	planner := dispatch.NewPlanner(cfg.Workers, model.DeliverableStandard{
		MinSources:       cfg.MinSources,
		MaxQuoteChars:    cfg.MaxQuoteChars,
		RequireScopeTags: true,
	}, nil)
	gate := review.NewGate(rev, cfg.RevisionCap, nil)
	trk := tracker.New(props, cfg.MinSources, nil)
	return New(cfg, planner, gate, exec, trk, nil), trk
}

func TestRun_CleanSingleRound(t *testing.T) {
	cfg := protocolConfig(3)
	exec := &fakeExecutor{fn: func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error) {
		return goodSubmission(task, model.VerdictTrue, "1890"), nil
	}}
	coord, _ := newTestCoordinator(cfg, testProps(3), exec, approveReviewer{})
	session := newSession()

	if err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}

	if session.Status != model.SessionFinalized {
		t.Fatalf("expected FINALIZED, got %s", session.Status)
	}
	if session.Verdict != model.VerdictTrue {
		t.Errorf("expected TRUE, got %s", session.Verdict)
	}
	if len(session.Rounds) != 1 {
		t.Errorf("expected 1 round, got %d", len(session.Rounds))
	}
	if session.Report == nil {
		t.Fatal("expected a report on the session")
	}
	if session.Report.Forced {
		t.Error("clean finalize must not be flagged forced")
	}
	if session.Report.RoundsRun != 1 {
		t.Errorf("expected RoundsRun 1, got %d", session.Report.RoundsRun)
	}
	if len(session.Report.Conflicts) != 0 || len(session.Report.Unresolved) != 0 {
		t.Errorf("clean finalize must leave no gaps: %+v", session.Report)
	}
	for _, task := range session.Rounds[0].Tasks {
		if task.Status != model.TaskApproved {
			t.Errorf("task %s not terminal after join: %s", task.ID, task.Status)
		}
	}
	if got := coord.State(); got != StateFinalizing {
		t.Errorf("expected FINALIZING, got %s", got)
	}
}

func TestRun_ReviseThenApproveWithinCap(t *testing.T) {
	cfg := protocolConfig(1)
	var sawFeedback bool
	var mu sync.Mutex

	exec := &fakeExecutor{fn: func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error) {
		if attempt == 1 {
			// First pass violates the source minimum.
			sub := goodSubmission(task, model.VerdictTrue, "1890")
			sub.Citations = sub.Citations[:1]
			return sub, nil
		}
		mu.Lock()
		if feedback != nil && feedback.Decision == model.ReviewRevise && len(feedback.Issues) > 0 {
			sawFeedback = true
		}
		mu.Unlock()
		return goodSubmission(task, model.VerdictTrue, "1890"), nil
	}}
	coord, _ := newTestCoordinator(cfg, testProps(1), exec, approveReviewer{})
	session := newSession()

	if err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !sawFeedback {
		t.Error("resubmission must receive the supervisor's revision feedback")
	}
	task := session.Rounds[0].Tasks[0]
	if task.Revisions != 1 {
		t.Errorf("expected exactly 1 revision, got %d", task.Revisions)
	}
	if len(task.Submissions) != 2 {
		t.Errorf("expected 2 submissions, got %d", len(task.Submissions))
	}
	if task.Submissions[1].Revision != 1 {
		t.Errorf("expected revision counter 1 on resubmission, got %d", task.Submissions[1].Revision)
	}
	if session.Verdict != model.VerdictTrue {
		t.Errorf("expected TRUE, got %s", session.Verdict)
	}
	if len(task.Caveats) != 0 {
		t.Errorf("within-cap approval must not carry caveats: %v", task.Caveats)
	}
}

func TestRun_GapHintsDriveSecondRound(t *testing.T) {
	cfg := protocolConfig(3)
	stubborn := map[string]bool{"p2": true, "p3": true}

	exec := &fakeExecutor{fn: func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error) {
		if task.Round == 1 && stubborn[task.PropositionIDs[0]] {
			// Never satisfies the minimum, so the cap approves it with a
			// caveat and the proposition stays unresolved.
			sub := goodSubmission(task, model.VerdictTrue, "1890")
			sub.Citations = sub.Citations[:1]
			sub.Verdicts = nil
			return sub, nil
		}
		return goodSubmission(task, model.VerdictTrue, "1890"), nil
	}}
	coord, _ := newTestCoordinator(cfg, testProps(3), exec, approveReviewer{})
	session := newSession()

	if err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(session.Rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(session.Rounds))
	}
	for _, task := range session.Rounds[1].Tasks {
		for _, id := range task.PropositionIDs {
			if !stubborn[id] {
				t.Errorf("round 2 reassigned covered proposition %s", id)
			}
		}
	}
	if session.Verdict != model.VerdictTrue {
		t.Errorf("expected TRUE after round 2, got %s", session.Verdict)
	}
	if session.Report.Forced {
		t.Error("finalize within the round cap must not be forced")
	}
	if len(session.Report.Caveats) == 0 {
		t.Error("round 1 forced approvals must surface as caveats")
	}
}

func TestRun_RoundCapForcesFinalizeOnConflict(t *testing.T) {
	cfg := protocolConfig(2)

	// Two slots re-verify the same proposition and permanently disagree:
	// opposite verdicts pinned to different time scopes.
	exec := &fakeExecutor{fn: func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error) {
		if task.Slot == 1 {
			return goodSubmission(task, model.VerdictTrue, "1890"), nil
		}
		return goodSubmission(task, model.VerdictFalse, "1975"), nil
	}}
	coord, _ := newTestCoordinator(cfg, testProps(1), exec, approveReviewer{})
	session := newSession()

	if err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(session.Rounds) != cfg.RoundCap {
		t.Errorf("expected %d rounds, got %d", cfg.RoundCap, len(session.Rounds))
	}
	if session.Status != model.SessionFinalized {
		t.Fatalf("expected FINALIZED, got %s", session.Status)
	}
	if !session.Report.Forced {
		t.Error("cap exhaustion must flag the report as forced")
	}
	if session.Verdict != model.VerdictMixed {
		t.Errorf("expected MIXED for a standing conflict, got %s", session.Verdict)
	}
	found := false
	for _, id := range session.Report.Conflicts {
		if id == "p1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected p1 in conflicts, got %v", session.Report.Conflicts)
	}
}

func TestRun_NoPropositionsForcesFinalize(t *testing.T) {
	cfg := protocolConfig(2)
	exec := &fakeExecutor{fn: func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error) {
		t.Error("executor must not run when dispatch fails")
		return model.Submission{}, nil
	}}
	coord, _ := newTestCoordinator(cfg, nil, exec, approveReviewer{})
	session := newSession()

	if err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}

	if session.Status != model.SessionFinalized {
		t.Fatalf("expected FINALIZED, got %s", session.Status)
	}
	if !session.Report.Forced {
		t.Error("dispatch failure must force the finalize")
	}
	if session.Verdict != model.VerdictUndetermined {
		t.Errorf("expected UNDETERMINED, got %s", session.Verdict)
	}
	if len(session.Rounds) != 0 {
		t.Errorf("expected no rounds, got %d", len(session.Rounds))
	}
}

func TestRun_ExecutorFailureSurfaces(t *testing.T) {
	cfg := protocolConfig(2)
	exec := &fakeExecutor{fn: func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error) {
		return model.Submission{}, errors.New("model endpoint down")
	}}
	coord, _ := newTestCoordinator(cfg, testProps(2), exec, approveReviewer{})
	session := newSession()

	err := coord.Run(context.Background(), session)
	if err == nil {
		t.Fatal("expected collaborator failure to surface")
	}
	if session.Status == model.SessionFinalized {
		t.Error("failed run must not finalize the session")
	}
}

func TestRun_Cancellation(t *testing.T) {
	cfg := protocolConfig(2)
	exec := &fakeExecutor{fn: func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error) {
		return model.Submission{}, nil // Unreachable: fakeExecutor returns ctx.Err() first.
	}}
	coord, _ := newTestCoordinator(cfg, testProps(2), exec, approveReviewer{})
	session := newSession()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := coord.Run(ctx, session)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if session.Report != nil {
		t.Error("cancelled run must not produce a report")
	}
}

// countingLocker counts acquisitions so a test can assert the
// coordinator takes the injected lock for its session writes.
type countingLocker struct {
	sync.Mutex
	locks int32
}

func (l *countingLocker) Lock() {
	atomic.AddInt32(&l.locks, 1)
	l.Mutex.Lock()
}

func TestRun_SessionWritesTakeInjectedLock(t *testing.T) {
	cfg := protocolConfig(2)
	exec := &fakeExecutor{fn: func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error) {
		return goodSubmission(task, model.VerdictTrue, "1890"), nil
	}}
	coord, _ := newTestCoordinator(cfg, testProps(2), exec, approveReviewer{})

	lock := &countingLocker{}
	coord.UseSessionLock(lock)
	session := newSession()

	if err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}

	// At minimum one acquisition for the round record and one for the
	// finalize write.
	if got := atomic.LoadInt32(&lock.locks); got < 2 {
		t.Errorf("expected session writes under the injected lock, got %d acquisitions", got)
	}
	if session.Status != model.SessionFinalized {
		t.Errorf("expected FINALIZED, got %s", session.Status)
	}
}

func TestRun_DuplicatedSlotsStillConverge(t *testing.T) {
	// One proposition across five slots: four slots are duplication
	// fallbacks, and replayed identical findings must not inflate the
	// evidence count.
	cfg := protocolConfig(5)
	exec := &fakeExecutor{fn: func(task model.Task, feedback *model.ReviewVerdict, attempt int) (model.Submission, error) {
		sub := goodSubmission(task, model.VerdictTrue, "1890")
		// Every slot cites the same two URLs.
		for i := range sub.Citations {
			sub.Citations[i].URL = fmt.Sprintf("https://example.com/p1/shared/%d", i)
		}
		return sub, nil
	}}
	coord, trk := newTestCoordinator(cfg, testProps(1), exec, approveReviewer{})
	session := newSession()

	if err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}

	if session.Verdict != model.VerdictTrue {
		t.Errorf("expected TRUE, got %s", session.Verdict)
	}
	props := trk.Propositions()
	if got := len(props[0].Evidence); got != 2 {
		t.Errorf("identical findings must deduplicate, got %d citations", got)
	}
	dupSlots := 0
	for _, task := range session.Rounds[0].Tasks {
		if task.Duplicated {
			dupSlots++
		}
	}
	if dupSlots != 4 {
		t.Errorf("expected 4 duplicated slots, got %d", dupSlots)
	}
}
