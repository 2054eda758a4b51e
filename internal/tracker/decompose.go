package tracker

import (
	"context"
	"strings"

	"golang.org/x/net/html"
)

// Decomposer splits a claim's text into atomic, independently verifiable
// proposition texts. The LLM-backed implementation lives in internal/llm;
// HeuristicDecomposer is the deterministic fallback.
type Decomposer interface {
	Decompose(ctx context.Context, text string) ([]string, error)
}

// HeuristicDecomposer extracts propositions without any model call:
// visible text is split into sentences and sentences carrying assertive
// keywords are preferred. Claims pasted as HTML are flattened first.
type HeuristicDecomposer struct {
	keywords []string
}

// NewHeuristicDecomposer creates the fallback decomposer.
func NewHeuristicDecomposer() *HeuristicDecomposer {
	return &HeuristicDecomposer{
		keywords: []string{
			"originated", "origin", "first", "introduced", "invented",
			"according to", "is defined as", "is legally", "under the law",
			"shall", "must", "is required", "established", "founded",
			"created", "discovered", "developed", "claims", "won",
			"announced", "confirmed", "reported", "will", "caused",
		},
	}
}

// Decompose splits the claim into candidate proposition texts, keyword
// matches first, in source order within each group.
func (d *HeuristicDecomposer) Decompose(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text = flattenMarkup(text)
	sentences := splitSentences(text)

	var matched, rest []string
	for _, sentence := range sentences {
		lower := strings.ToLower(sentence)
		hit := false
		for _, keyword := range d.keywords {
			if strings.Contains(lower, keyword) {
				hit = true
				break
			}
		}
		if hit {
			matched = append(matched, sentence)
		} else {
			rest = append(rest, sentence)
		}
	}

	props := dedupe(append(matched, rest...))
	if len(props) == 0 {
		// Short or fragmentary input: treat the whole claim as one proposition.
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			props = []string{trimmed}
		}
	}
	return props, nil
}

// flattenMarkup strips tags when the claim was pasted as HTML, keeping
// only visible text. Plain text passes through unchanged apart from
// whitespace normalization.
func flattenMarkup(text string) string {
	if !strings.ContainsRune(text, '<') {
		return text
	}
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return text
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				buf.WriteString(t)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return buf.String()
}

// splitSentences splits text into sentences (simple heuristic). Very
// short fragments are dropped; very long runs are kept whole rather than
// guessed at.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	var current strings.Builder

	flush := func() {
		sentence := strings.TrimSpace(current.String())
		if len(sentence) >= 15 && len(sentence) <= 500 {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// Look ahead to avoid splitting on abbreviations
			if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\t' {
				flush()
			}
		}
	}
	flush()

	return sentences
}

func dedupe(texts []string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, t := range texts {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, t)
	}
	return unique
}
