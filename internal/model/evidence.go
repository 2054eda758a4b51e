package model

import "time"

// Citation is one cited source backing a finding. Every field except
// Quote is required by the deliverable standard; the quote is bounded
// in length so reports stay within fair-use excerpts.
type Citation struct {
	Title       string     `json:"title"`
	Publisher   string     `json:"publisher"` // Publisher or author
	URL         string     `json:"url"`
	RetrievedAt time.Time  `json:"retrieved_at"`
	Quote       string     `json:"quote,omitempty"`
	ScopeTags   []ScopeTag `json:"scope_tags,omitempty"` // Explicit scope, used for conflict detection
}

// ScopeDimension classifies what a scope tag constrains.
type ScopeDimension string

const (
	ScopeTime       ScopeDimension = "time"
	ScopeGeo        ScopeDimension = "geo"
	ScopeDefinition ScopeDimension = "definition"
)

// ScopeTag narrows the validity of a citation, e.g. {time, "2019"} or
// {geo, "Singapore"}. Conflict detection compares tags literally, never
// by interpreting the text.
type ScopeTag struct {
	Dimension ScopeDimension `json:"dimension"`
	Value     string         `json:"value"`
}

// Key returns the canonical comparable form of the tag.
func (t ScopeTag) Key() string {
	return string(t.Dimension) + "=" + t.Value
}

// Finding is a per-proposition result distilled from an approved
// submission: the worker's partial verdict plus its citations.
type Finding struct {
	Round         int        `json:"round"`
	PropositionID string     `json:"proposition_id"`
	Verdict       Verdict    `json:"verdict"`
	Citations     []Citation `json:"citations,omitempty"`
}
