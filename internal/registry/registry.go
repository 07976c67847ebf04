// Package registry holds the configured providers and hands out immutable,
// priority-ordered snapshots of the ones that can currently be tried.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/bsmeter/internal/llm"
	"github.com/ppiankov/bsmeter/internal/model"
)

const (
	adapterCacheSize = 64
	probeTimeout     = 5 * time.Second
)

// Descriptor is the read-only scheduling view of one provider
type Descriptor struct {
	Name     string
	Type     string
	Priority int
	Timeout  time.Duration
	Enabled  bool
}

// Candidate pairs a descriptor with the adapter to call
type Candidate struct {
	Descriptor
	Provider llm.Provider
}

// Status is the diagnostics view of one configured provider
type Status struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Priority  int    `json:"priority"`
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// ProbeResult is the outcome of an active backend check
type ProbeResult struct {
	Name    string
	Err     error
	Skipped bool
}

// Factory builds an adapter from provider configuration
type Factory func(llm.Config) (llm.Provider, error)

type entry struct {
	desc     Descriptor
	provider llm.Provider
	reason   string
}

type snapshot struct {
	entries []entry
}

// Registry owns provider descriptors and adapters. Readers get a snapshot per
// call; Reload swaps the snapshot atomically.
type Registry struct {
	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex

	adapters *lru.Cache[string, llm.Provider]
	limiter  *llm.Limiter
	factory  Factory
	logger   *zap.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithFactory overrides adapter construction
func WithFactory(f Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New builds a registry from configuration
func New(cfgs []model.ProviderConfig, opts ...Option) (*Registry, error) {
	adapters, err := lru.New[string, llm.Provider](adapterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create adapter cache: %w", err)
	}

	r := &Registry{
		adapters: adapters,
		limiter:  llm.NewLimiter(),
		factory:  llm.NewProvider,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.Reload(cfgs); err != nil {
		return nil, err
	}
	return r, nil
}

// Entry is a pre-built provider for NewStatic
type Entry struct {
	Descriptor
	Provider llm.Provider
}

// NewStatic builds a registry around already constructed providers, in the given order
func NewStatic(entries ...Entry) *Registry {
	r := &Registry{
		limiter: llm.NewLimiter(),
		logger:  zap.NewNop(),
	}
	snap := &snapshot{entries: make([]entry, 0, len(entries))}
	for _, e := range entries {
		d := e.Descriptor
		if d.Name == "" && e.Provider != nil {
			d.Name = e.Provider.Name()
		}
		if d.Timeout <= 0 {
			d.Timeout = llm.DefaultTimeout(d.Type)
		}
		snap.entries = append(snap.entries, entry{desc: d, provider: e.Provider})
	}
	r.current.Store(snap)
	return r
}

// Reload replaces the provider set. Adapters whose configuration is unchanged are reused.
// A provider missing its credential is kept but disabled.
func (r *Registry) Reload(cfgs []model.ProviderConfig) error {
	if r.factory == nil {
		return fmt.Errorf("registry has no factory; static registries cannot reload")
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	seen := make(map[string]bool, len(cfgs))
	snap := &snapshot{entries: make([]entry, 0, len(cfgs))}

	for _, pc := range cfgs {
		name := pc.Name
		if name == "" {
			name = pc.Type
		}
		if name == "" {
			return fmt.Errorf("provider with neither name nor type")
		}
		if seen[name] {
			return fmt.Errorf("duplicate provider name %q", name)
		}
		seen[name] = true

		timeout := pc.Timeout
		if timeout <= 0 {
			timeout = llm.DefaultTimeout(pc.Type)
		}

		e := entry{desc: Descriptor{
			Name:     name,
			Type:     pc.Type,
			Priority: pc.Priority,
			Timeout:  timeout,
			Enabled:  pc.Enabled,
		}}

		switch {
		case !pc.Enabled:
			e.reason = "disabled in configuration"
		case llm.RequiresKey(pc.Type) && pc.APIKey == "":
			e.desc.Enabled = false
			e.reason = "no credential configured"
		default:
			p, err := r.adapter(name, pc)
			if err != nil {
				e.desc.Enabled = false
				e.reason = err.Error()
				r.logger.Warn("provider disabled", zap.String("provider", name), zap.Error(err))
				break
			}
			e.provider = r.limiter.Wrap(p, pc.RateLimit, pc.RateBurst)
		}

		snap.entries = append(snap.entries, e)
	}

	r.current.Store(snap)
	r.logger.Debug("provider registry loaded", zap.Int("providers", len(snap.entries)))
	return nil
}

func (r *Registry) adapter(name string, pc model.ProviderConfig) (llm.Provider, error) {
	key := configKey(name, pc)
	if p, ok := r.adapters.Get(key); ok {
		return p, nil
	}

	cfg := llm.ConfigFromModel(pc)
	cfg.Name = name
	p, err := r.factory(cfg)
	if err != nil {
		return nil, err
	}
	r.adapters.Add(key, p)
	return p, nil
}

// configKey identifies an adapter by everything that shapes its behavior
func configKey(name string, pc model.ProviderConfig) string {
	pc.Name = name
	// scheduling fields do not affect the adapter
	pc.Priority, pc.Enabled, pc.RateLimit, pc.RateBurst = 0, false, 0, 0
	b, _ := json.Marshal(pc)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// OrderedCandidates returns enabled, available providers sorted by priority.
// Ties keep configuration order.
func (r *Registry) OrderedCandidates() []Candidate {
	snap := r.current.Load()
	out := make([]Candidate, 0, len(snap.entries))
	for _, e := range snap.entries {
		if !e.desc.Enabled || e.provider == nil || !e.provider.IsAvailable() {
			continue
		}
		out = append(out, Candidate{Descriptor: e.desc, Provider: e.provider})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Status reports every configured provider in configuration order
func (r *Registry) Status() []Status {
	snap := r.current.Load()
	out := make([]Status, 0, len(snap.entries))
	for _, e := range snap.entries {
		s := Status{
			Name:     e.desc.Name,
			Type:     e.desc.Type,
			Priority: e.desc.Priority,
			Enabled:  e.desc.Enabled,
			Reason:   e.reason,
		}
		if e.desc.Enabled && e.provider != nil {
			s.Available = e.provider.IsAvailable()
			if !s.Available && s.Reason == "" {
				s.Reason = "backend unreachable"
			}
		}
		out = append(out, s)
	}
	return out
}

// Probe actively checks every enabled provider that supports it, concurrently
func (r *Registry) Probe(ctx context.Context) []ProbeResult {
	snap := r.current.Load()
	results := make([]ProbeResult, len(snap.entries))

	var g errgroup.Group
	g.SetLimit(4)
	for i, e := range snap.entries {
		results[i].Name = e.desc.Name
		if !e.desc.Enabled || e.provider == nil {
			results[i].Skipped = true
			continue
		}
		prober, ok := llm.Unwrap(e.provider).(llm.Prober)
		if !ok {
			results[i].Skipped = true
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			results[i].Err = prober.Probe(pctx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
