package store

import (
	"context"
	"sync/atomic"

	"github.com/ppiankov/bsmeter/internal/cache"
	"github.com/ppiankov/bsmeter/internal/model"
)

// Cached fronts a Store with an in-memory record cache for Lookup.
// Search and Stats go straight to the backing store.
type Cached struct {
	Store
	hot cache.RecordCache

	// a read overlapping a tag write must not repopulate the cache
	writing atomic.Int64
	writes  atomic.Uint64
}

// NewCached wraps s with hot
func NewCached(s Store, hot cache.RecordCache) *Cached {
	return &Cached{Store: s, hot: hot}
}

// Lookup checks memory first, then the backing store, promoting hits
func (c *Cached) Lookup(ctx context.Context, fp model.Fingerprint) (*model.AnalysisRecord, error) {
	if rec, found := c.hot.Get(fp); found {
		return rec, nil
	}

	gen := c.writes.Load()
	rec, err := c.Store.Lookup(ctx, fp)
	if err != nil {
		return nil, err
	}
	c.promote(gen, rec)
	return rec, nil
}

// CreateIfAbsent persists first, then caches the winner
func (c *Cached) CreateIfAbsent(ctx context.Context, fp model.Fingerprint, req model.AnalysisRequest, res model.AnalysisResult) (*model.AnalysisRecord, bool, error) {
	gen := c.writes.Load()
	rec, created, err := c.Store.CreateIfAbsent(ctx, fp, req, res)
	if err != nil {
		return nil, false, err
	}
	c.promote(gen, rec)
	return rec, created, nil
}

// AddTag invalidates the cached copy
func (c *Cached) AddTag(ctx context.Context, fp model.Fingerprint, tag string) error {
	return c.invalidating(fp, func() error { return c.Store.AddTag(ctx, fp, tag) })
}

// RemoveTag invalidates the cached copy
func (c *Cached) RemoveTag(ctx context.Context, fp model.Fingerprint, tag string) error {
	return c.invalidating(fp, func() error { return c.Store.RemoveTag(ctx, fp, tag) })
}

func (c *Cached) invalidating(fp model.Fingerprint, write func() error) error {
	c.writing.Add(1)
	c.hot.Delete(fp)
	defer func() {
		c.writes.Add(1)
		c.hot.Delete(fp)
		c.writing.Add(-1)
	}()
	return write()
}

// promote caches rec unless a tag write started or finished since gen was read
func (c *Cached) promote(gen uint64, rec *model.AnalysisRecord) {
	if c.writing.Load() != 0 || c.writes.Load() != gen {
		return
	}
	c.hot.Set(rec)
}

// Close clears the cache and closes the backing store
func (c *Cached) Close() error {
	c.hot.Clear()
	return c.Store.Close()
}
