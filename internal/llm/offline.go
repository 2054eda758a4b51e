package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"veridict/internal/fetch"
	"veridict/internal/model"
)

// Offline is the deterministic collaborator used when no provider is
// configured: a dry-run worker and supervisor with no model behind them.
// It only cites URLs that appear verbatim in the task text and that it
// can actually retrieve, so offline sessions finalize UNDETERMINED with
// caveats unless the claim itself carries checkable sources.
type Offline struct {
	fetcher *fetch.Fetcher
}

// NewOffline creates the offline collaborator. fetcher may be nil, in
// which case nothing is ever cited.
func NewOffline(fetcher *fetch.Fetcher) *Offline {
	return &Offline{fetcher: fetcher}
}

var urlPattern = regexp.MustCompile(`https?://[^\s\)"]+`)

// Execute answers a task from whatever URLs the task text itself names.
func (o *Offline) Execute(ctx context.Context, task model.Task, feedback *model.ReviewVerdict) (model.Submission, error) {
	sub := model.Submission{
		Verdicts: make(map[string]model.Verdict, len(task.PropositionIDs)),
	}
	for _, id := range task.PropositionIDs {
		sub.Verdicts[id] = model.VerdictUndetermined
	}

	urls := dedupeURLs(urlPattern.FindAllString(task.Text, -1))
	for _, raw := range urls {
		raw = strings.TrimRight(raw, ".,;:!?")
		if o.fetcher == nil {
			continue
		}
		res, err := o.fetcher.Fetch(ctx, raw)
		if err != nil {
			continue
		}
		sub.Citations = append(sub.Citations, model.Citation{
			Title:       res.Subject,
			Publisher:   res.Host,
			URL:         res.FinalURL,
			RetrievedAt: res.FetchedAt,
			ScopeTags:   []model.ScopeTag{{Dimension: model.ScopeDefinition, Value: "as stated"}},
		})
	}

	if len(sub.Citations) == 0 {
		sub.ShortAnswer = "Unable to verify: no reachable sources in offline mode."
		sub.Findings = "Offline mode cites only URLs named in the task text; none were retrievable."
	} else {
		sub.ShortAnswer = fmt.Sprintf("Retrieved %d stated source(s); substantive judgment unavailable offline.", len(sub.Citations))
		sub.Findings = "Offline mode confirms source reachability only, not content."
	}
	return sub, nil
}

// Review approves anything that passed the gate's protocol checks; the
// offline supervisor has no substantive judgment of its own.
func (o *Offline) Review(ctx context.Context, task model.Task, sub model.Submission) (model.ReviewVerdict, error) {
	if err := ctx.Err(); err != nil {
		return model.ReviewVerdict{}, err
	}
	return model.ReviewVerdict{
		Decision: model.ReviewApprove,
		Digest:   fmt.Sprintf("offline pass-through (%d sources reachable)", len(sub.Citations)),
	}, nil
}

// Describe cannot inspect media offline; it returns a placeholder so the
// claim records that an attachment existed.
func (o *Offline) Describe(ctx context.Context, att model.Attachment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[attachment %q (%s): description unavailable in offline mode, retrieved %s]",
		att.Name, att.MimeType, time.Now().UTC().Format(time.RFC3339)), nil
}

func dedupeURLs(urls []string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			unique = append(unique, u)
		}
	}
	return unique
}
