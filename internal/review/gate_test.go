package review

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"veridict/internal/model"
)

type scriptedReviewer struct {
	decisions []model.ReviewDecision
	calls     int
}

func (r *scriptedReviewer) Review(ctx context.Context, task model.Task, sub model.Submission) (model.ReviewVerdict, error) {
	d := model.ReviewApprove
	if r.calls < len(r.decisions) {
		d = r.decisions[r.calls]
	}
	r.calls++
	return model.ReviewVerdict{Decision: d, Issues: issuesFor(d)}, nil
}

func issuesFor(d model.ReviewDecision) []string {
	if d == model.ReviewRevise {
		return []string{"quote does not support the verdict"}
	}
	return nil
}

type failingReviewer struct{}

func (failingReviewer) Review(ctx context.Context, task model.Task, sub model.Submission) (model.ReviewVerdict, error) {
	return model.ReviewVerdict{}, errors.New("upstream unavailable")
}

func testStandard() model.DeliverableStandard {
	return model.DeliverableStandard{MinSources: 2, MaxQuoteChars: 280, RequireScopeTags: true}
}

func goodSubmission(revision int) model.Submission {
	cite := func(url string) model.Citation {
		return model.Citation{
			Title:       "Some Article",
			Publisher:   "Some Paper",
			URL:         url,
			RetrievedAt: time.Now(),
			Quote:       "a short supporting quote",
			ScopeTags:   []model.ScopeTag{{Dimension: model.ScopeTime, Value: "1890"}},
		}
	}
	return model.Submission{
		TaskID:      "t-1",
		Slot:        1,
		Round:       1,
		Revision:    revision,
		ShortAnswer: "supported by two independent sources",
		Citations:   []model.Citation{cite("https://example.com/a"), cite("https://example.com/b")},
	}
}

func newTask() model.Task {
	return model.Task{
		ID:       "t-1",
		Round:    1,
		Slot:     1,
		Standard: testStandard(),
		Status:   model.TaskAssigned,
	}
}

func TestGate_ApprovesCleanSubmission(t *testing.T) {
	reviewer := &scriptedReviewer{}
	gate := NewGate(reviewer, 2, nil)
	task := newTask()

	verdict, err := gate.Review(context.Background(), &task, goodSubmission(0))
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if verdict.Decision != model.ReviewApprove {
		t.Errorf("expected APPROVE, got %s", verdict.Decision)
	}
	if verdict.Digest == "" {
		t.Error("approval must carry a digest for the manager")
	}
	if task.Status != model.TaskApproved {
		t.Errorf("expected APPROVED, got %s", task.Status)
	}
	if task.Revisions != 0 {
		t.Errorf("expected 0 revisions, got %d", task.Revisions)
	}
	if reviewer.calls != 1 {
		t.Errorf("expected 1 reviewer call, got %d", reviewer.calls)
	}
}

func TestGate_ProtocolViolationSkipsReviewer(t *testing.T) {
	reviewer := &scriptedReviewer{}
	gate := NewGate(reviewer, 2, nil)
	task := newTask()

	sub := goodSubmission(0)
	sub.Citations = sub.Citations[:1] // Below the source minimum.

	verdict, err := gate.Review(context.Background(), &task, sub)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if verdict.Decision != model.ReviewRevise {
		t.Errorf("expected REVISE, got %s", verdict.Decision)
	}
	if len(verdict.Issues) == 0 || !strings.Contains(verdict.Issues[0], "sources cited") {
		t.Errorf("expected a source-count issue, got %v", verdict.Issues)
	}
	if task.Status != model.TaskRevisionRequested {
		t.Errorf("expected REVISION_REQUESTED, got %s", task.Status)
	}
	if task.Revisions != 1 {
		t.Errorf("expected 1 revision, got %d", task.Revisions)
	}
	if reviewer.calls != 0 {
		t.Error("protocol violations must not reach the substantive reviewer")
	}
}

func TestGate_ReviseThenApprove(t *testing.T) {
	reviewer := &scriptedReviewer{decisions: []model.ReviewDecision{model.ReviewRevise, model.ReviewApprove}}
	gate := NewGate(reviewer, 2, nil)
	task := newTask()

	first, err := gate.Review(context.Background(), &task, goodSubmission(0))
	if err != nil {
		t.Fatalf("first review: %v", err)
	}
	if first.Decision != model.ReviewRevise {
		t.Fatalf("expected REVISE first, got %s", first.Decision)
	}
	if task.Revisions != 1 {
		t.Fatalf("expected 1 revision, got %d", task.Revisions)
	}

	second, err := gate.Review(context.Background(), &task, goodSubmission(1))
	if err != nil {
		t.Fatalf("second review: %v", err)
	}
	if second.Decision != model.ReviewApprove {
		t.Errorf("expected APPROVE second, got %s", second.Decision)
	}
	if task.Status != model.TaskApproved {
		t.Errorf("expected APPROVED, got %s", task.Status)
	}
	if len(task.Submissions) != 2 || len(task.Reviews) != 2 {
		t.Errorf("expected 2 submissions and 2 reviews, got %d/%d", len(task.Submissions), len(task.Reviews))
	}
	if len(task.Caveats) != 0 {
		t.Errorf("clean approval must not add caveats: %v", task.Caveats)
	}
}

func TestGate_RevisionCapForcesApprovalWithCaveat(t *testing.T) {
	// Reviewer never satisfied; the cap must close the cycle anyway.
	reviewer := &scriptedReviewer{decisions: []model.ReviewDecision{
		model.ReviewRevise, model.ReviewRevise, model.ReviewRevise,
	}}
	gate := NewGate(reviewer, 2, nil)
	task := newTask()

	var verdict model.ReviewVerdict
	var err error
	for rev := 0; rev <= 2; rev++ {
		verdict, err = gate.Review(context.Background(), &task, goodSubmission(rev))
		if err != nil {
			t.Fatalf("review revision %d: %v", rev, err)
		}
	}

	if verdict.Decision != model.ReviewApproveWithCaveat {
		t.Fatalf("expected APPROVE_WITH_CAVEAT at cap, got %s", verdict.Decision)
	}
	if verdict.Digest == "" {
		t.Error("forced approval must still carry a digest")
	}
	if task.Status != model.TaskApproved {
		t.Errorf("expected APPROVED, got %s", task.Status)
	}
	if task.Revisions != 2 {
		t.Errorf("revision count must stop at the cap, got %d", task.Revisions)
	}
	if len(task.Caveats) == 0 {
		t.Error("forced approval must record the open issues as caveats")
	}
}

func TestGate_ReviewerError(t *testing.T) {
	gate := NewGate(failingReviewer{}, 2, nil)
	task := newTask()

	_, err := gate.Review(context.Background(), &task, goodSubmission(0))
	if err == nil {
		t.Fatal("expected reviewer error to surface")
	}
	if !strings.Contains(err.Error(), "supervisor review") {
		t.Errorf("expected wrapped supervisor error, got %v", err)
	}
}

func TestProtocolIssues(t *testing.T) {
	std := testStandard()

	tests := []struct {
		name   string
		mutate func(*model.Submission)
		want   string
	}{
		{"missing short answer", func(s *model.Submission) { s.ShortAnswer = "" }, "short answer"},
		{"too few sources", func(s *model.Submission) { s.Citations = s.Citations[:1] }, "sources cited"},
		{"missing title", func(s *model.Submission) { s.Citations[0].Title = "" }, "title is missing"},
		{"missing publisher", func(s *model.Submission) { s.Citations[1].Publisher = "" }, "publisher is missing"},
		{"missing url", func(s *model.Submission) { s.Citations[0].URL = "" }, "url is missing"},
		{"missing retrieval time", func(s *model.Submission) { s.Citations[0].RetrievedAt = time.Time{} }, "retrieval time"},
		{"quote too long", func(s *model.Submission) { s.Citations[0].Quote = strings.Repeat("x", 281) }, "quote exceeds"},
		{"missing scope tags", func(s *model.Submission) { s.Citations[0].ScopeTags = nil }, "scope tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := goodSubmission(0)
			tt.mutate(&sub)
			issues := ProtocolIssues(sub, std)
			if len(issues) == 0 {
				t.Fatal("expected at least one issue")
			}
			found := false
			for _, issue := range issues {
				if strings.Contains(issue, tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an issue containing %q, got %v", tt.want, issues)
			}
		})
	}

	t.Run("clean submission", func(t *testing.T) {
		if issues := ProtocolIssues(goodSubmission(0), std); len(issues) != 0 {
			t.Errorf("expected no issues, got %v", issues)
		}
	})
}
