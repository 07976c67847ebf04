package orchestrator

import (
	"context"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/registry"
	"github.com/ppiankov/bsmeter/internal/store"
)

// callLog records provider invocations across fakes in order
type callLog struct {
	mu    sync.Mutex
	names []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

type fakeProvider struct {
	name    string
	delay   time.Duration
	err     error
	verdict string
	down    bool

	log     *callLog
	started chan struct{}

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (p *fakeProvider) Name() string      { return p.name }
func (p *fakeProvider) IsAvailable() bool { return !p.down }

func (p *fakeProvider) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p.calls.Add(1)
	if p.log != nil {
		p.log.add(p.name)
	}

	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxSeen.Load()
		if n <= m || p.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}

	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, &model.CancelledError{Cause: ctx.Err()}
		case <-t.C:
		}
	}
	if p.err != nil {
		return nil, p.err
	}

	verdict := p.verdict
	if verdict == "" {
		verdict = "false"
	}
	return &model.AnalysisResult{
		Verdict:          verdict,
		Explanation:      "explained by " + p.name,
		CounterArguments: []string{"counter"},
		ConfidenceScore:  0.7,
		ProviderUsed:     p.name,
		CreatedAt:        time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}, nil
}

func entry(p *fakeProvider, priority int, timeout time.Duration) registry.Entry {
	return registry.Entry{
		Descriptor: registry.Descriptor{Name: p.name, Priority: priority, Timeout: timeout, Enabled: true},
		Provider:   p,
	}
}

// memStore is an in-memory store.Store
type memStore struct {
	mu      sync.Mutex
	records map[model.Fingerprint]*model.AnalysisRecord

	createErr error
	lookupErr error
	creates   atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{records: make(map[model.Fingerprint]*model.AnalysisRecord)}
}

func (s *memStore) Lookup(_ context.Context, fp model.Fingerprint) (*model.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	rec, ok := s.records[fp]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *memStore) CreateIfAbsent(_ context.Context, fp model.Fingerprint, req model.AnalysisRequest, res model.AnalysisResult) (*model.AnalysisRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, false, s.createErr
	}
	if rec, ok := s.records[fp]; ok {
		return rec.Clone(), false, nil
	}
	s.creates.Add(1)
	rec := &model.AnalysisRecord{Fingerprint: fp, Request: req, Result: res, Tags: []string{}}
	s.records[fp] = rec.Clone()
	return rec, true, nil
}

func (s *memStore) AddTag(_ context.Context, fp model.Fingerprint, tag string) error {
	tag, err := store.NormalizeTag(tag)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fp]
	if !ok {
		return store.ErrNotFound
	}
	if !rec.HasTag(tag) {
		rec.Tags = append(rec.Tags, tag)
	}
	return nil
}

func (s *memStore) RemoveTag(_ context.Context, fp model.Fingerprint, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fp]
	if !ok {
		return store.ErrNotFound
	}
	kept := []string{}
	for _, t := range rec.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	rec.Tags = kept
	return nil
}

func (s *memStore) Search(_ context.Context, q store.Query) iter.Seq2[*model.AnalysisRecord, error] {
	return func(yield func(*model.AnalysisRecord, error) bool) {
		s.mu.Lock()
		recs := make([]*model.AnalysisRecord, 0, len(s.records))
		for _, r := range s.records {
			if q.Tag == "" || r.HasTag(q.Tag) {
				recs = append(recs, r.Clone())
			}
		}
		s.mu.Unlock()

		sort.Slice(recs, func(i, j int) bool { return recs[i].Fingerprint > recs[j].Fingerprint })
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (s *memStore) Stats(context.Context) (*store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &store.Stats{Total: len(s.records)}, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
