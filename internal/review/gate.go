// Package review enforces the submission protocol: evidentiary minimums,
// citation completeness, and the revision cap that keeps worker/supervisor
// cycles from looping forever.
package review

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"veridict/internal/model"
)

// Reviewer is the collaborator that judges a submission's substance.
// The gate wraps it with protocol checks and the cap override; the
// LLM-backed implementation lives in internal/llm.
type Reviewer interface {
	Review(ctx context.Context, task model.Task, sub model.Submission) (model.ReviewVerdict, error)
}

// Gate applies per-submission accept/revise logic for one session.
type Gate struct {
	reviewer    Reviewer
	revisionCap int
	log         *zap.Logger
}

// NewGate creates a review gate. revisionCap bounds how many REVISE
// verdicts a single task can accumulate before forced approval.
func NewGate(reviewer Reviewer, revisionCap int, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{reviewer: reviewer, revisionCap: revisionCap, log: log}
}

// Review records the submission on the task, judges it, and returns the
// verdict. The task advances SUBMITTED -> APPROVED or REVISION_REQUESTED;
// once the revision cap is exhausted a revise outcome is overridden to
// APPROVE_WITH_CAVEAT so the round can close.
func (g *Gate) Review(ctx context.Context, task *model.Task, sub model.Submission) (model.ReviewVerdict, error) {
	task.Status = model.TaskSubmitted
	task.Submissions = append(task.Submissions, sub)

	verdict, err := g.judge(ctx, task, sub)
	if err != nil {
		return model.ReviewVerdict{}, err
	}

	if verdict.Decision == model.ReviewRevise && task.Revisions >= g.revisionCap {
		g.log.Info("revision cap reached, forcing approval",
			zap.String("task", task.ID),
			zap.Int("round", task.Round),
			zap.Int("revisions", task.Revisions),
			zap.Strings("open_issues", verdict.Issues))
		verdict = model.ReviewVerdict{
			TaskID:   task.ID,
			Revision: sub.Revision,
			Decision: model.ReviewApproveWithCaveat,
			Digest:   digest(sub),
			Issues:   verdict.Issues,
		}
	}

	task.Reviews = append(task.Reviews, verdict)
	switch verdict.Decision {
	case model.ReviewApprove:
		task.Status = model.TaskApproved
	case model.ReviewApproveWithCaveat:
		task.Status = model.TaskApproved
		task.Caveats = append(task.Caveats, verdict.Issues...)
	case model.ReviewRevise:
		task.Status = model.TaskRevisionRequested
		task.Revisions++
	}
	return verdict, nil
}

// judge runs the protocol checks and, only when they pass, consults the
// supervisor collaborator.
func (g *Gate) judge(ctx context.Context, task *model.Task, sub model.Submission) (model.ReviewVerdict, error) {
	if issues := ProtocolIssues(sub, task.Standard); len(issues) > 0 {
		return model.ReviewVerdict{
			TaskID:   task.ID,
			Revision: sub.Revision,
			Decision: model.ReviewRevise,
			Issues:   issues,
		}, nil
	}

	verdict, err := g.reviewer.Review(ctx, *task, sub)
	if err != nil {
		return model.ReviewVerdict{}, fmt.Errorf("supervisor review: %w", err)
	}
	verdict.TaskID = task.ID
	verdict.Revision = sub.Revision
	if verdict.Decision == "" {
		verdict.Decision = model.ReviewApprove
	}
	if verdict.Decision != model.ReviewRevise && verdict.Digest == "" {
		verdict.Digest = digest(sub)
	}
	return verdict, nil
}

// ProtocolIssues lists every deliverable-standard violation in a
// submission. Empty means the submission may proceed to substantive
// review.
func ProtocolIssues(sub model.Submission, std model.DeliverableStandard) []string {
	var issues []string
	if sub.ShortAnswer == "" {
		issues = append(issues, "short answer is missing")
	}
	if len(sub.Citations) < std.MinSources {
		issues = append(issues, fmt.Sprintf("only %d sources cited, %d required", len(sub.Citations), std.MinSources))
	}
	for i, c := range sub.Citations {
		if c.Title == "" {
			issues = append(issues, fmt.Sprintf("citation %d: title is missing", i+1))
		}
		if c.Publisher == "" {
			issues = append(issues, fmt.Sprintf("citation %d: publisher is missing", i+1))
		}
		if c.URL == "" {
			issues = append(issues, fmt.Sprintf("citation %d: url is missing", i+1))
		}
		if c.RetrievedAt.IsZero() {
			issues = append(issues, fmt.Sprintf("citation %d: retrieval time is missing", i+1))
		}
		if std.MaxQuoteChars > 0 && len(c.Quote) > std.MaxQuoteChars {
			issues = append(issues, fmt.Sprintf("citation %d: quote exceeds %d characters", i+1, std.MaxQuoteChars))
		}
		if std.RequireScopeTags && len(c.ScopeTags) == 0 {
			issues = append(issues, fmt.Sprintf("citation %d: scope tags are missing", i+1))
		}
	}
	return issues
}

// digest is the short approval summary forwarded to the manager.
func digest(sub model.Submission) string {
	return fmt.Sprintf("%s (%d sources)", sub.ShortAnswer, len(sub.Citations))
}
