package model

// Verdict is the truth assessment for a proposition or a whole session.
type Verdict string

const (
	VerdictTrue         Verdict = "TRUE"
	VerdictFalse        Verdict = "FALSE"
	VerdictMixed        Verdict = "MIXED"
	VerdictUndetermined Verdict = "UNDETERMINED"
	VerdictPending      Verdict = "PENDING"
)

// IsTerminal reports whether the verdict is a final assessment.
func (v Verdict) IsTerminal() bool {
	return v != VerdictPending && v != ""
}

// Proposition is one atomic, independently verifiable statement extracted
// from the Claim. The set of propositions is fixed at session start; only
// verdicts and evidence change afterwards.
type Proposition struct {
	ID       string     `json:"id"`
	Text     string     `json:"text"`
	Verdict  Verdict    `json:"verdict"`
	Evidence []Citation `json:"evidence,omitempty"`
}
