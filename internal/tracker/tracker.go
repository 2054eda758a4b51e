// Package tracker holds the bounded proposition set of a session and the
// coverage/verdict state that decides when rounds may stop.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"veridict/internal/model"
)

// Policy combines per-proposition verdicts into one overall verdict.
// The default rule is a documented design choice, not a discovered
// invariant; callers may swap it.
type Policy func(perProposition []model.Verdict) model.Verdict

// DefaultPolicy: all TRUE -> TRUE; any FALSE -> FALSE; TRUE/UNDETERMINED
// mix without FALSE -> MIXED; otherwise UNDETERMINED.
func DefaultPolicy(verdicts []model.Verdict) model.Verdict {
	if len(verdicts) == 0 {
		return model.VerdictUndetermined
	}
	trues, falses, mixed := 0, 0, 0
	for _, v := range verdicts {
		switch v {
		case model.VerdictTrue:
			trues++
		case model.VerdictFalse:
			falses++
		case model.VerdictMixed:
			mixed++
		}
	}
	switch {
	case falses > 0:
		return model.VerdictFalse
	case trues == len(verdicts):
		return model.VerdictTrue
	case trues > 0 || mixed > 0:
		return model.VerdictMixed
	default:
		return model.VerdictUndetermined
	}
}

// Extract runs claim decomposition and enforces the proposition cap.
// Proposition IDs are p1..pN in extraction order.
func Extract(ctx context.Context, dec Decomposer, claim model.Claim, cap int) ([]model.Proposition, error) {
	text := strings.TrimSpace(claim.FullText())
	if text == "" {
		return nil, &model.ExtractionError{Reason: "claim text is empty"}
	}

	texts, err := dec.Decompose(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("decompose claim: %w", err)
	}
	if len(texts) == 0 {
		return nil, &model.ExtractionError{Reason: "no verifiable propositions found"}
	}
	if cap > 0 && len(texts) > cap {
		texts = texts[:cap]
	}

	props := make([]model.Proposition, len(texts))
	for i, t := range texts {
		props[i] = model.Proposition{
			ID:      fmt.Sprintf("p%d", i+1),
			Text:    t,
			Verdict: model.VerdictPending,
		}
	}
	return props, nil
}

// Coverage is the per-finalization-check snapshot of proposition state.
type Coverage struct {
	Covered     []string // Enough sources, no conflict
	Conflicting []string // Approved findings disagree on scope or verdict
	Unresolved  []string // Below the minimum source count
}

// Resolved reports whether nothing remains to send another round after.
func (c Coverage) Resolved() bool {
	return len(c.Conflicting) == 0 && len(c.Unresolved) == 0
}

// Tracker owns the fixed proposition set of one session. It is shared
// mutable state across the concurrent task completions of a round, so
// every mutation goes through the mutex; CoverageReport must only be
// called after the round's join barrier.
type Tracker struct {
	mu         sync.Mutex
	props      []model.Proposition
	index      map[string]int
	findings   map[string][]model.Finding // By proposition ID, applied order
	applied    map[string]bool            // Idempotence keys
	minSources int
	policy     Policy
}

// New creates a tracker over an already-extracted proposition set.
func New(props []model.Proposition, minSources int, policy Policy) *Tracker {
	if policy == nil {
		policy = DefaultPolicy
	}
	index := make(map[string]int, len(props))
	copied := make([]model.Proposition, len(props))
	copy(copied, props)
	for i, p := range copied {
		index[p.ID] = i
	}
	return &Tracker{
		props:      copied,
		index:      index,
		findings:   make(map[string][]model.Finding),
		applied:    make(map[string]bool),
		minSources: minSources,
		policy:     policy,
	}
}

// Propositions returns a snapshot of the proposition set.
func (t *Tracker) Propositions() []model.Proposition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Proposition, len(t.props))
	copy(out, t.props)
	return out
}

// RecordFinding appends evidence and updates the tentative verdict for a
// proposition. Reapplying the same round's finding is a no-op, so retried
// aggregation never duplicates evidence.
func (t *Tracker) RecordFinding(f model.Finding) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[f.PropositionID]
	if !ok {
		return fmt.Errorf("record finding: unknown proposition %q", f.PropositionID)
	}

	key := findingKey(f)
	if t.applied[key] {
		return nil
	}
	t.applied[key] = true

	t.findings[f.PropositionID] = append(t.findings[f.PropositionID], f)

	// Merge citations, deduplicated by URL.
	have := make(map[string]bool, len(t.props[i].Evidence))
	for _, c := range t.props[i].Evidence {
		have[c.URL] = true
	}
	for _, c := range f.Citations {
		if c.URL == "" || have[c.URL] {
			continue
		}
		have[c.URL] = true
		t.props[i].Evidence = append(t.props[i].Evidence, c)
	}

	t.props[i].Verdict = tentativeVerdict(t.findings[f.PropositionID])
	return nil
}

// findingKey identifies a finding for idempotence: the round, the
// proposition, and the cited URL set.
func findingKey(f model.Finding) string {
	urls := make([]string, 0, len(f.Citations))
	for _, c := range f.Citations {
		urls = append(urls, c.URL)
	}
	sort.Strings(urls)
	return fmt.Sprintf("%d/%s/%s", f.Round, f.PropositionID, strings.Join(urls, "|"))
}

// tentativeVerdict merges the partial verdicts recorded so far.
func tentativeVerdict(findings []model.Finding) model.Verdict {
	trues, falses, undet := 0, 0, 0
	for _, f := range findings {
		switch f.Verdict {
		case model.VerdictTrue:
			trues++
		case model.VerdictFalse:
			falses++
		case model.VerdictUndetermined:
			undet++
		}
	}
	switch {
	case trues > 0 && falses > 0:
		return model.VerdictMixed
	case trues > 0:
		return model.VerdictTrue
	case falses > 0:
		return model.VerdictFalse
	case undet > 0:
		return model.VerdictUndetermined
	default:
		return model.VerdictPending
	}
}

// CoverageReport classifies every proposition as covered, conflicting or
// unresolved. Call only after a round's join completes; a mid-round read
// would observe a partially aggregated snapshot.
func (t *Tracker) CoverageReport() Coverage {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cov Coverage
	for _, p := range t.props {
		switch {
		case t.conflictingLocked(p.ID):
			cov.Conflicting = append(cov.Conflicting, p.ID)
		case len(p.Evidence) < t.minSources:
			cov.Unresolved = append(cov.Unresolved, p.ID)
		default:
			cov.Covered = append(cov.Covered, p.ID)
		}
	}
	return cov
}

// conflictingLocked reports whether any two findings for the proposition
// disagree. Two findings conflict when they assert opposite verdicts, or
// when they agree but their scope tags name different values for the
// same dimension (time/geo/definition). Tags are compared literally.
func (t *Tracker) conflictingLocked(propID string) bool {
	fs := t.findings[propID]
	for i := 0; i < len(fs); i++ {
		for j := i + 1; j < len(fs); j++ {
			if findingsConflict(fs[i], fs[j]) {
				return true
			}
		}
	}
	return false
}

func findingsConflict(a, b model.Finding) bool {
	opposite := (a.Verdict == model.VerdictTrue && b.Verdict == model.VerdictFalse) ||
		(a.Verdict == model.VerdictFalse && b.Verdict == model.VerdictTrue)
	if opposite {
		return true
	}
	return scopesDisagree(a.Citations, b.Citations)
}

// scopesDisagree reports whether the two citation sets pin the same
// dimension to different values.
func scopesDisagree(a, b []model.Citation) bool {
	values := func(cs []model.Citation) map[model.ScopeDimension]map[string]bool {
		m := make(map[model.ScopeDimension]map[string]bool)
		for _, c := range cs {
			for _, tag := range c.ScopeTags {
				if m[tag.Dimension] == nil {
					m[tag.Dimension] = make(map[string]bool)
				}
				m[tag.Dimension][tag.Value] = true
			}
		}
		return m
	}
	av, bv := values(a), values(b)
	for dim, vals := range av {
		other, ok := bv[dim]
		if !ok {
			continue
		}
		// Disjoint value sets for a shared dimension is a scope conflict.
		overlap := false
		for v := range vals {
			if other[v] {
				overlap = true
				break
			}
		}
		if !overlap {
			return true
		}
	}
	return false
}

// FinalVerdict freezes per-proposition verdicts and combines them via
// the policy. Propositions below the source minimum finalize as
// UNDETERMINED; verdict contradictions finalize as MIXED.
func (t *Tracker) FinalVerdict() (model.Verdict, []model.Proposition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	finalProps := make([]model.Proposition, len(t.props))
	copy(finalProps, t.props)

	verdicts := make([]model.Verdict, len(finalProps))
	for i := range finalProps {
		v := finalProps[i].Verdict
		if len(finalProps[i].Evidence) < t.minSources || !v.IsTerminal() {
			v = model.VerdictUndetermined
		}
		if t.conflictingLocked(finalProps[i].ID) && v != model.VerdictUndetermined {
			v = model.VerdictMixed
		}
		finalProps[i].Verdict = v
		verdicts[i] = v
	}
	t.props = finalProps

	return t.policy(verdicts), finalProps
}
