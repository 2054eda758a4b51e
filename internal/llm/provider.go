// Package llm implements the session's external collaborators (claim
// decomposition, worker research, supervisor review, media description)
// on top of an OpenAI-compatible chat endpoint, with deterministic
// offline fallbacks.
package llm

import (
	"context"
	"fmt"
	"strings"

	"veridict/internal/fetch"
	"veridict/internal/model"
	"veridict/internal/review"
	"veridict/internal/round"
	"veridict/internal/tracker"
)

// MediaDescriber turns a media attachment into text that is folded into
// the claim before extraction. The core never sees the media bytes.
type MediaDescriber interface {
	Describe(ctx context.Context, att model.Attachment) (string, error)
}

// Collaborators bundles one implementation of every collaborator role a
// session needs.
type Collaborators struct {
	Decomposer tracker.Decomposer
	Executor   round.Executor
	Reviewer   review.Reviewer
	Describer  MediaDescriber
}

// Config holds provider configuration.
type Config struct {
	// Provider name: "openai" or "" (offline mode)
	Provider string

	// Model name, provider-specific
	Model string

	// APIKey for the endpoint
	APIKey string

	// BaseURL for OpenAI-compatible endpoints (e.g. a local server)
	BaseURL string

	// Timeout per call, seconds
	Timeout int

	// MaxTokens per response
	MaxTokens int

	// SystemPrompt is the shared role preamble. Immutable for the
	// lifetime of a session.
	SystemPrompt string
}

// ConfigFromModel converts model.LLMConfig plus the protocol's system
// prompt into an llm.Config.
func ConfigFromModel(cfg model.LLMConfig, systemPrompt string) Config {
	return Config{
		Provider:     cfg.Provider,
		Model:        cfg.Model,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Timeout:      cfg.Timeout,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: systemPrompt,
	}
}

// DefaultSystemPrompt is the preamble every collaborator call carries
// unless the config overrides it.
const DefaultSystemPrompt = `You are part of a fact-checking crew. You never assert truth without
citations, you never cite a source you were not given or did not fetch,
and when evidence is insufficient you say UNDETERMINED. Respond with
strict JSON when asked for JSON, with no surrounding prose.`

// NewCollaborators builds the collaborator set for a session. An empty
// provider selects the deterministic offline implementations; fetcher
// may be nil in offline tests.
func NewCollaborators(cfg Config, fetcher *fetch.Fetcher) (*Collaborators, error) {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		client, err := NewOpenAIClient(cfg, fetcher)
		if err != nil {
			return nil, err
		}
		return &Collaborators{
			Decomposer: client,
			Executor:   client,
			Reviewer:   client,
			Describer:  client,
		}, nil

	case "":
		off := NewOffline(fetcher)
		return &Collaborators{
			Decomposer: tracker.NewHeuristicDecomposer(),
			Executor:   off,
			Reviewer:   off,
			Describer:  off,
		}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai)", cfg.Provider)
	}
}
