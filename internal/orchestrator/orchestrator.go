// Package orchestrator runs an analysis request through the dedup store and
// the provider candidates, falling back in priority order.
package orchestrator

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/registry"
	"github.com/ppiankov/bsmeter/internal/store"
)

// persistTimeout bounds the store write after a successful provider call.
// The write is detached from the caller's cancellation.
const persistTimeout = 10 * time.Second

// Providers is the registry view the orchestrator needs
type Providers interface {
	OrderedCandidates() []registry.Candidate
	Status() []registry.Status
}

// Outcome is what a caller gets back from Analyze
type Outcome struct {
	Record *model.AnalysisRecord

	// Cached is set when the record came from the store without a provider call
	Cached bool

	// Shared is set when this caller waited on another in-flight call
	Shared bool

	// Attempts lists failed candidates tried before the one that succeeded
	Attempts []model.Attempt

	// Warning carries a persistence failure; Record is still valid
	Warning error
}

// Orchestrator coordinates dedup, fallback and persistence
type Orchestrator struct {
	providers Providers
	store     store.Store
	flights   singleflight.Group

	logger   *zap.Logger
	observer Observer
	deadline time.Duration
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithObserver registers a progress hook
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithDeadline sets the overall deadline applied when the caller's context has none
func WithDeadline(d time.Duration) Option {
	return func(o *Orchestrator) { o.deadline = d }
}

// New creates an orchestrator
func New(providers Providers, st store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		store:     st,
		logger:    zap.NewNop(),
		observer:  func(Event) {},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// flight is the shared result of one leader's scan
type flight struct {
	record   *model.AnalysisRecord
	cached   bool
	attempts []model.Attempt
	warning  error
}

// Analyze returns the analysis for req, from the store when possible.
// Concurrent calls for the same fingerprint share one scan.
func (o *Orchestrator) Analyze(ctx context.Context, req model.AnalysisRequest) (*Outcome, error) {
	callID := uuid.NewString()
	logger := o.logger.With(zap.String("call_id", callID))

	// 1. Validate
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &model.CancelledError{Cause: err}
	}

	if _, ok := ctx.Deadline(); !ok && o.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}

	fp := model.FingerprintOf(req)
	logger = logger.With(zap.String("fingerprint", fp.Short()))

	// 2. Dedup check
	rec, lookupWarning := o.lookup(ctx, fp, logger)
	if rec != nil {
		o.observer(Event{Kind: EventDedupHit, CallID: callID, Fingerprint: fp, Provider: rec.Result.ProviderUsed})
		logger.Debug("dedup hit", zap.String("provider", rec.Result.ProviderUsed))
		return &Outcome{Record: rec, Cached: true}, nil
	}

	// 3. Candidate scan, at most one per fingerprint
	var led atomic.Bool
	ch := o.flights.DoChan(string(fp), func() (any, error) {
		led.Store(true)
		return o.scan(ctx, callID, fp, req, logger)
	})

	select {
	case <-ctx.Done():
		return nil, &model.CancelledError{Cause: context.Cause(ctx)}
	case r := <-ch:
		shared := !led.Load()
		if shared {
			logger.Debug("joined in-flight analysis")
		}
		if r.Err != nil {
			return nil, r.Err
		}
		f := r.Val.(*flight)
		out := &Outcome{
			Record:   f.record.Clone(),
			Cached:   f.cached,
			Shared:   shared,
			Attempts: append([]model.Attempt(nil), f.attempts...),
			Warning:  f.warning,
		}
		if out.Warning == nil {
			out.Warning = lookupWarning
		}
		return out, nil
	}
}

// lookup treats store read failures as a miss and reports them as a warning
func (o *Orchestrator) lookup(ctx context.Context, fp model.Fingerprint, logger *zap.Logger) (*model.AnalysisRecord, error) {
	rec, err := o.store.Lookup(ctx, fp)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	default:
		logger.Warn("dedup lookup failed, analysing anyway", zap.Error(err))
		return nil, err
	}
}

// scan runs as the leader for fp. ctx is the leader's context.
func (o *Orchestrator) scan(ctx context.Context, callID string, fp model.Fingerprint, req model.AnalysisRequest, logger *zap.Logger) (*flight, error) {
	// a previous leader may have persisted between our lookup and admission
	if rec, _ := o.lookup(ctx, fp, logger); rec != nil {
		return &flight{record: rec, cached: true}, nil
	}

	candidates := o.providers.OrderedCandidates()
	if len(candidates) == 0 {
		logger.Warn("no provider available")
		return nil, &model.NoProviderAvailableError{}
	}

	var attempts []model.Attempt
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, &model.CancelledError{Cause: context.Cause(ctx)}
		}

		budget := c.Timeout
		if dl, ok := ctx.Deadline(); ok {
			if remaining := time.Until(dl); remaining < budget {
				budget = remaining
			}
		}

		o.observer(Event{Kind: EventAttemptStarted, CallID: callID, Fingerprint: fp, Provider: c.Name, Attempt: i + 1})
		start := time.Now()

		res, err := o.attempt(ctx, c, req, budget)
		elapsed := time.Since(start)

		if err == nil {
			logger.Info("analysis succeeded",
				zap.String("provider", c.Name),
				zap.Int("attempt", i+1),
				zap.Duration("elapsed", elapsed))
			o.observer(Event{Kind: EventSucceeded, CallID: callID, Fingerprint: fp, Provider: c.Name, Attempt: i + 1, Elapsed: elapsed})
			return o.persist(ctx, callID, fp, req, res, attempts, logger), nil
		}

		class := model.Classify(err)
		switch {
		case ctx.Err() != nil:
			logger.Debug("analysis cancelled", zap.String("provider", c.Name))
			return nil, &model.CancelledError{Cause: context.Cause(ctx)}
		case class == model.ClassCancelled:
			// our per-candidate timer fired; the caller is still waiting
			err = &model.TimeoutError{Provider: c.Name, After: budget}
			class = model.ClassTimeout
		case class == model.ClassValidation:
			return nil, err
		}

		a := model.Attempt{
			Provider: c.Name,
			Class:    class,
			Err:      err,
			Reason:   err.Error(),
			Elapsed:  elapsed,
		}
		attempts = append(attempts, a)

		logger.Warn("provider failed, falling back",
			zap.String("provider", c.Name),
			zap.String("class", string(class)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		o.observer(Event{Kind: EventAttemptFailed, CallID: callID, Fingerprint: fp, Provider: c.Name, Attempt: i + 1, Err: err, Elapsed: elapsed})
	}

	return nil, &model.ExhaustedError{Attempts: attempts}
}

// attempt calls one candidate under its own timeout
func (o *Orchestrator) attempt(ctx context.Context, c registry.Candidate, req model.AnalysisRequest, budget time.Duration) (*model.AnalysisResult, error) {
	actx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	res, err := c.Provider.Analyze(actx, req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &model.ResponseFormatError{Provider: c.Name, Err: errors.New("empty result")}
	}
	if res.ProviderUsed == "" {
		res.ProviderUsed = c.Name
	}
	return res, nil
}

// persist stores the result. A store failure still returns the in-memory record.
func (o *Orchestrator) persist(ctx context.Context, callID string, fp model.Fingerprint, req model.AnalysisRequest, res *model.AnalysisResult, attempts []model.Attempt, logger *zap.Logger) *flight {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	rec, created, err := o.store.CreateIfAbsent(pctx, fp, req, *res)
	if err != nil {
		var se *model.StoreError
		if !errors.As(err, &se) {
			err = &model.StoreError{Op: "create", Err: err}
		}
		logger.Warn("failed to persist analysis", zap.Error(err))
		o.observer(Event{Kind: EventPersistFailed, CallID: callID, Fingerprint: fp, Provider: res.ProviderUsed, Err: err})

		return &flight{
			record: &model.AnalysisRecord{
				Fingerprint: fp,
				Request:     req,
				Result:      *res,
				Tags:        []string{},
			},
			attempts: attempts,
			warning:  err,
		}
	}
	if !created {
		logger.Debug("record already persisted by another writer")
	}
	return &flight{record: rec, attempts: attempts}
}

// Search browses the history, newest first
func (o *Orchestrator) Search(ctx context.Context, q store.Query) iter.Seq2[*model.AnalysisRecord, error] {
	return o.store.Search(ctx, q)
}

// Lookup returns a stored record
func (o *Orchestrator) Lookup(ctx context.Context, fp model.Fingerprint) (*model.AnalysisRecord, error) {
	return o.store.Lookup(ctx, fp)
}

// AddTag tags a stored record
func (o *Orchestrator) AddTag(ctx context.Context, fp model.Fingerprint, tag string) error {
	return o.store.AddTag(ctx, fp, tag)
}

// RemoveTag untags a stored record
func (o *Orchestrator) RemoveTag(ctx context.Context, fp model.Fingerprint, tag string) error {
	return o.store.RemoveTag(ctx, fp, tag)
}

// Stats summarises the history
func (o *Orchestrator) Stats(ctx context.Context) (*store.Stats, error) {
	return o.store.Stats(ctx)
}

// ProviderStatus is the diagnostics view of every configured provider
func (o *Orchestrator) ProviderStatus() []registry.Status {
	return o.providers.Status()
}
