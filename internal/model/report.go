package model

import "time"

// Report is the terminal output of a session.
type Report struct {
	SessionID    string              `json:"session_id"`
	Claim        string              `json:"claim"`
	Verdict      Verdict             `json:"verdict"`
	Propositions []PropositionReport `json:"propositions"`
	Caveats      []string            `json:"caveats,omitempty"`         // Issues left open by forced approvals
	Conflicts    []string            `json:"conflicts,omitempty"`       // Proposition IDs still conflicting at finalize
	Unresolved   []string            `json:"unresolved,omitempty"`      // Proposition IDs below the source minimum
	Forced       bool                `json:"forced_finalize,omitempty"` // Round cap or dispatch exhaustion, not full coverage
	RoundsRun    int                 `json:"rounds_run"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// PropositionReport is the per-proposition slice of the terminal report.
type PropositionReport struct {
	ID       string     `json:"id"`
	Text     string     `json:"text"`
	Verdict  Verdict    `json:"verdict"`
	Evidence []Citation `json:"evidence,omitempty"`
}

// EvidenceURLs returns every distinct cited URL across all propositions,
// in first-seen order. Renderers use it for the source appendix.
func (r *Report) EvidenceURLs() []string {
	seen := make(map[string]bool)
	var urls []string
	for _, p := range r.Propositions {
		for _, c := range p.Evidence {
			if c.URL == "" || seen[c.URL] {
				continue
			}
			seen[c.URL] = true
			urls = append(urls, c.URL)
		}
	}
	return urls
}
