// Package dispatch plans the task set of a round: exactly one task per
// worker slot, covering the outstanding propositions without overlap.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"veridict/internal/model"
	"veridict/internal/tracker"
)

// GapHints bias round >= 2 planning toward what the previous round left
// open. Derived from the tracker's coverage report at round boundaries.
type GapHints struct {
	Unresolved  []string // Proposition IDs below the source minimum
	Conflicting []string // Proposition IDs with disagreeing findings
}

// FromCoverage converts a coverage report into planning hints.
func FromCoverage(cov tracker.Coverage) GapHints {
	return GapHints{Unresolved: cov.Unresolved, Conflicting: cov.Conflicting}
}

// Planner produces the task set for each round of one session.
type Planner struct {
	workers  int
	standard model.DeliverableStandard
	log      *zap.Logger
}

// NewPlanner creates a planner for a fixed worker slot count.
func NewPlanner(workers int, standard model.DeliverableStandard, log *zap.Logger) *Planner {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{workers: workers, standard: standard, log: log}
}

// PlanRound returns exactly one task per worker slot. Tasks are
// complementary: no proposition is assigned twice in a round unless
// there are fewer outstanding propositions than slots, in which case
// duplication is the logged fallback.
func (p *Planner) PlanRound(round int, props []model.Proposition, hints GapHints) ([]model.Task, error) {
	outstanding := p.outstanding(round, props, hints)
	if len(outstanding) == 0 {
		return nil, &model.DispatchError{Round: round, Reason: "no outstanding propositions to assign"}
	}

	conflicting := make(map[string]bool, len(hints.Conflicting))
	for _, id := range hints.Conflicting {
		conflicting[id] = true
	}

	tasks := make([]model.Task, p.workers)
	for slot := 1; slot <= p.workers; slot++ {
		tasks[slot-1] = model.Task{
			ID:       uuid.NewString(),
			Round:    round,
			Slot:     slot,
			Standard: p.standard,
			Status:   model.TaskAssigned,
		}
	}

	// First pass: spread distinct propositions across slots round-robin.
	for i, prop := range outstanding {
		t := &tasks[i%p.workers]
		t.PropositionIDs = append(t.PropositionIDs, prop.ID)
	}

	// Fallback: fewer propositions than slots. Idle slots re-verify an
	// already assigned proposition rather than sitting empty.
	if len(outstanding) < p.workers {
		for i := len(outstanding); i < p.workers; i++ {
			dup := outstanding[i%len(outstanding)]
			t := &tasks[i]
			t.PropositionIDs = append(t.PropositionIDs, dup.ID)
			t.Duplicated = true
			p.log.Info("duplicate assignment fallback",
				zap.Int("round", round),
				zap.Int("slot", t.Slot),
				zap.String("proposition", dup.ID))
		}
	}

	byID := make(map[string]model.Proposition, len(props))
	for _, prop := range props {
		byID[prop.ID] = prop
	}
	for i := range tasks {
		tasks[i].Text = taskText(&tasks[i], byID, conflicting)
	}
	return tasks, nil
}

// outstanding selects which propositions this round must cover. Round 1
// covers everything; later rounds follow the gap hints.
func (p *Planner) outstanding(round int, props []model.Proposition, hints GapHints) []model.Proposition {
	if round <= 1 {
		return props
	}
	wanted := make(map[string]bool, len(hints.Unresolved)+len(hints.Conflicting))
	for _, id := range hints.Unresolved {
		wanted[id] = true
	}
	for _, id := range hints.Conflicting {
		wanted[id] = true
	}
	var out []model.Proposition
	for _, prop := range props {
		if wanted[prop.ID] {
			out = append(out, prop)
		}
	}
	return out
}

// taskText renders the sub-question a worker receives, biased toward
// conflict resolution where a proposition is flagged.
func taskText(t *model.Task, byID map[string]model.Proposition, conflicting map[string]bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d, slot %d. Verify the following and report per-proposition verdicts:\n", t.Round, t.Slot)
	for _, id := range t.PropositionIDs {
		prop := byID[id]
		if conflicting[id] {
			fmt.Fprintf(&b, "- [%s] Prior sources disagree on scope for: %s. Find sources that settle the time/place/definition in question.\n", id, prop.Text)
		} else {
			fmt.Fprintf(&b, "- [%s] %s\n", id, prop.Text)
		}
	}
	fmt.Fprintf(&b, "Cite at least %d independent sources; every citation needs title, publisher, URL, retrieval time, a quote of at most %d characters, and explicit scope tags.",
		t.Standard.MinSources, t.Standard.MaxQuoteChars)
	if t.Duplicated {
		b.WriteString(" This assignment re-verifies a proposition also assigned to another slot; work independently.")
	}
	return b.String()
}
