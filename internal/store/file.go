package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/bsmeter/internal/model"
)

// FileStore keeps one JSON document per fingerprint in a directory.
// Creation is atomic through a hard link, so the first writer wins.
type FileStore struct {
	dir    string
	logger *zap.Logger

	// serialises tag read-modify-write cycles
	tagMu sync.Mutex
}

// OpenFileStore creates the directory if needed
func OpenFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger.With(zap.String("store", "file"))}, nil
}

// Close is a no-op
func (s *FileStore) Close() error { return nil }

// path generates the file path for a fingerprint
func (s *FileStore) path(fp model.Fingerprint) string {
	return filepath.Join(s.dir, string(fp)+".json")
}

// Lookup reads the record file
func (s *FileStore) Lookup(ctx context.Context, fp model.Fingerprint) (*model.AnalysisRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.read(s.path(fp))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &model.StoreError{Op: "lookup", Err: err}
	}
	return rec, nil
}

func (s *FileStore) read(path string) (*model.AnalysisRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec model.AnalysisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	rec.Result.CounterArguments = nonNil(rec.Result.CounterArguments)
	rec.Result.LogicalFallacies = nonNil(rec.Result.LogicalFallacies)
	rec.Result.Recommendations = nonNil(rec.Result.Recommendations)
	rec.Tags = nonNil(rec.Tags)
	return &rec, nil
}

// writeTemp writes rec to a synced temp file in the store directory and returns its path
func (s *FileStore) writeTemp(rec *model.AnalysisRecord) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// syncDir makes a directory entry change durable
func (s *FileStore) syncDir() error {
	d, err := os.Open(s.dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// CreateIfAbsent links a fully written temp file into place; an existing file wins
func (s *FileStore) CreateIfAbsent(ctx context.Context, fp model.Fingerprint, req model.AnalysisRequest, res model.AnalysisResult) (*model.AnalysisRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	rec := newRecord(fp, req, res)
	tmp, err := s.writeTemp(rec)
	if err != nil {
		return nil, false, &model.StoreError{Op: "create", Err: err}
	}
	defer func() { _ = os.Remove(tmp) }()

	err = os.Link(tmp, s.path(fp))
	if errors.Is(err, fs.ErrExist) {
		existing, lerr := s.Lookup(ctx, fp)
		if lerr != nil {
			return nil, false, lerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, &model.StoreError{Op: "create", Err: err}
	}
	if err := s.syncDir(); err != nil {
		return nil, false, &model.StoreError{Op: "create", Err: err}
	}
	return rec, true, nil
}

// AddTag rewrites the record with the tag added
func (s *FileStore) AddTag(ctx context.Context, fp model.Fingerprint, tag string) error {
	tag, err := NormalizeTag(tag)
	if err != nil {
		return err
	}
	return s.updateTags(ctx, fp, func(rec *model.AnalysisRecord) bool {
		if rec.HasTag(tag) {
			return false
		}
		rec.Tags = append(rec.Tags, tag)
		sort.Strings(rec.Tags)
		return true
	})
}

// RemoveTag rewrites the record without the tag
func (s *FileStore) RemoveTag(ctx context.Context, fp model.Fingerprint, tag string) error {
	tag, err := NormalizeTag(tag)
	if err != nil {
		return err
	}
	return s.updateTags(ctx, fp, func(rec *model.AnalysisRecord) bool {
		kept := rec.Tags[:0]
		for _, t := range rec.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		changed := len(kept) != len(rec.Tags)
		rec.Tags = kept
		return changed
	})
}

func (s *FileStore) updateTags(ctx context.Context, fp model.Fingerprint, mutate func(*model.AnalysisRecord) bool) error {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	rec, err := s.Lookup(ctx, fp)
	if err != nil {
		return err
	}
	if !mutate(rec) {
		return nil
	}

	tmp, err := s.writeTemp(rec)
	if err != nil {
		return &model.StoreError{Op: "tag", Err: err}
	}
	if err := os.Rename(tmp, s.path(fp)); err != nil {
		_ = os.Remove(tmp)
		return &model.StoreError{Op: "tag", Err: err}
	}
	if err := s.syncDir(); err != nil {
		return &model.StoreError{Op: "tag", Err: err}
	}
	return nil
}

// all loads every record, newest first
func (s *FileStore) all(ctx context.Context) ([]*model.AnalysisRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var recs []*model.AnalysisRecord
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			s.logger.Warn("skipping unreadable record", zap.String("file", name), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool { return newer(recs[i], recs[j]) })
	return recs, nil
}

// Search scans the directory on every range
func (s *FileStore) Search(ctx context.Context, q Query) iter.Seq2[*model.AnalysisRecord, error] {
	return func(yield func(*model.AnalysisRecord, error) bool) {
		recs, err := s.all(ctx)
		if err != nil {
			yield(nil, &model.StoreError{Op: "search", Err: err})
			return
		}
		n := 0
		for _, rec := range recs {
			if !q.matches(rec) {
				continue
			}
			if q.Limit > 0 && n >= q.Limit {
				return
			}
			if !yield(rec, nil) {
				return
			}
			n++
		}
	}
}

// Stats aggregates over every record
func (s *FileStore) Stats(ctx context.Context) (*Stats, error) {
	recs, err := s.all(ctx)
	if err != nil {
		return nil, &model.StoreError{Op: "stats", Err: err}
	}
	return statsOf(recs), nil
}

func statsOf(recs []*model.AnalysisRecord) *Stats {
	st := newStats()
	tagCounts := make(map[string]int)
	for _, rec := range recs {
		st.Total++
		st.ByAttitude[string(rec.Request.Attitude)]++
		st.ByProvider[rec.Result.ProviderUsed]++
		st.BySource[string(rec.Request.SourceType)]++
		for _, t := range rec.Tags {
			tagCounts[t]++
		}
	}
	for tag, n := range tagCounts {
		st.TopTags = append(st.TopTags, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(st.TopTags, func(i, j int) bool {
		if st.TopTags[i].Count != st.TopTags[j].Count {
			return st.TopTags[i].Count > st.TopTags[j].Count
		}
		return st.TopTags[i].Tag < st.TopTags[j].Tag
	})
	if len(st.TopTags) > topTagLimit {
		st.TopTags = st.TopTags[:topTagLimit]
	}
	return st
}
