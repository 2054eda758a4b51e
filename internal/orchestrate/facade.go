// Package orchestrate is the single entry point the outer service layer
// touches: submit a claim, poll or await the terminal report, abort.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"veridict/internal/dispatch"
	"veridict/internal/llm"
	"veridict/internal/model"
	"veridict/internal/review"
	"veridict/internal/round"
	"veridict/internal/tracker"
)

// Orchestrator owns the session registry and runs each session's rounds
// in its own goroutine. Finalized sessions are retained for the
// configured TTL and then evicted.
type Orchestrator struct {
	cfg    *model.Config
	collab *llm.Collaborators
	log    *zap.Logger

	sessions *gocache.Cache
}

// handle tracks one running or retained session.
type handle struct {
	mu      sync.Mutex
	session *model.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an orchestrator.
func New(cfg *model.Config, collab *llm.Collaborators, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.Cache.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Orchestrator{
		cfg:      cfg,
		collab:   collab,
		log:      log,
		sessions: gocache.New(ttl, 10*time.Minute),
	}
}

// Submit folds media descriptions into the claim, extracts the
// proposition set, and starts the rounds asynchronously. An empty or
// undecomposable claim fails here, before any session exists.
func (o *Orchestrator) Submit(ctx context.Context, claim model.Claim, atts []model.Attachment) (string, error) {
	if err := o.foldDescriptions(ctx, &claim, atts); err != nil {
		return "", err
	}

	props, err := tracker.Extract(ctx, o.collab.Decomposer, claim, o.cfg.Protocol.PropositionCap)
	if err != nil {
		return "", err
	}

	session := &model.Session{
		ID:           uuid.NewString(),
		Claim:        claim,
		Propositions: props,
		Status:       model.SessionRunning,
		CreatedAt:    time.Now().UTC(),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{
		session: session,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	o.sessions.Set(session.ID, h, gocache.NoExpiration)

	o.log.Info("session submitted",
		zap.String("session", session.ID),
		zap.Int("propositions", len(props)))

	go o.run(runCtx, h, props)
	return session.ID, nil
}

// run drives one session to its terminal state.
func (o *Orchestrator) run(ctx context.Context, h *handle, props []model.Proposition) {
	defer close(h.done)
	defer h.cancel()

	trk := tracker.New(props, o.cfg.Protocol.MinSources, nil)
	planner := dispatch.NewPlanner(o.cfg.Protocol.Workers, o.cfg.Standard(), o.log)
	gate := review.NewGate(o.collab.Reviewer, o.cfg.Protocol.RevisionCap, o.log)
	coord := round.New(o.cfg.Protocol, planner, gate, o.collab.Executor, trk, o.log)
	// GetResult and Session read the aggregate under h.mu while rounds
	// run, so every coordinator write must take the same lock.
	coord.UseSessionLock(&h.mu)

	h.mu.Lock()
	session := h.session
	h.mu.Unlock()

	err := coord.Run(ctx, session)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		session.Status = model.SessionAborted
		if errors.Is(err, context.Canceled) {
			session.Error = model.ErrSessionAborted.Error()
			o.log.Info("session aborted", zap.String("session", session.ID))
		} else {
			session.Error = err.Error()
			o.log.Error("session failed", zap.String("session", session.ID), zap.Error(err))
		}
	}
	// Start the retention clock now that the session is terminal.
	o.sessions.Set(session.ID, h, gocache.DefaultExpiration)
}

// foldDescriptions runs the media describer over every attachment
// concurrently and appends the texts to the claim.
func (o *Orchestrator) foldDescriptions(ctx context.Context, claim *model.Claim, atts []model.Attachment) error {
	if len(atts) == 0 || o.collab.Describer == nil {
		return nil
	}

	descs := make([]string, len(atts))
	g, gctx := errgroup.WithContext(ctx)
	for i, att := range atts {
		i, att := i, att
		g.Go(func() error {
			text, err := o.collab.Describer.Describe(gctx, att)
			if err != nil {
				return fmt.Errorf("describe %s: %w", att.Name, err)
			}
			if max := o.cfg.Protocol.MaxDescChars; max > 0 && len(text) > max {
				text = text[:max]
			}
			descs[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	claim.Descriptions = append(claim.Descriptions, descs...)
	return nil
}

// lookup returns the handle for a session ID.
func (o *Orchestrator) lookup(id string) (*handle, error) {
	v, ok := o.sessions.Get(id)
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return v.(*handle), nil
}

// GetResult returns the terminal report, ErrPending while rounds are
// still running, or the session's terminal error.
func (o *Orchestrator) GetResult(id string) (*model.Report, error) {
	h, err := o.lookup(id)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.session.Status {
	case model.SessionRunning:
		return nil, model.ErrPending
	case model.SessionAborted:
		if h.session.Error != "" && h.session.Error != model.ErrSessionAborted.Error() {
			return nil, errors.New(h.session.Error)
		}
		return nil, model.ErrSessionAborted
	default:
		return h.session.Report, nil
	}
}

// Session returns a point-in-time copy of the session aggregate, for
// status displays and audit output.
func (o *Orchestrator) Session(id string) (*model.Session, error) {
	h, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	copied := *h.session
	return &copied, nil
}

// Await blocks until the session is terminal or ctx expires, then
// returns what GetResult would.
func (o *Orchestrator) Await(ctx context.Context, id string) (*model.Report, error) {
	h, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-h.done:
		return o.GetResult(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Abort cancels every in-flight worker and supervisor cycle of the
// session. Aborting a terminal session is a no-op.
func (o *Orchestrator) Abort(id string) error {
	h, err := o.lookup(id)
	if err != nil {
		return err
	}
	h.cancel()
	return nil
}

// Check is the synchronous convenience path used by the CLI: submit,
// then await the terminal report.
func (o *Orchestrator) Check(ctx context.Context, claim model.Claim, atts []model.Attachment) (*model.Report, error) {
	id, err := o.Submit(ctx, claim, atts)
	if err != nil {
		return nil, err
	}
	report, err := o.Await(ctx, id)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Caller gave up: stop the session rather than leaking it.
		_ = o.Abort(id)
	}
	return report, err
}
