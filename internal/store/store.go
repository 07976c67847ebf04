// Package store persists analysis records keyed by fingerprint.
package store

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/bsmeter/internal/model"
)

// ErrNotFound is returned when no record exists for a fingerprint
var ErrNotFound = errors.New("record not found")

// Store is the dedup store contract
type Store interface {
	// Lookup returns the record for fp or ErrNotFound
	Lookup(ctx context.Context, fp model.Fingerprint) (*model.AnalysisRecord, error)

	// CreateIfAbsent persists a new record unless one exists. It returns the
	// winning record and whether this call created it. The record is durable
	// before it returns.
	CreateIfAbsent(ctx context.Context, fp model.Fingerprint, req model.AnalysisRequest, res model.AnalysisResult) (*model.AnalysisRecord, bool, error)

	// AddTag attaches a normalised tag; adding an existing tag is a no-op
	AddTag(ctx context.Context, fp model.Fingerprint, tag string) error

	// RemoveTag detaches a tag; removing an absent tag is a no-op
	RemoveTag(ctx context.Context, fp model.Fingerprint, tag string) error

	// Search yields matching records, newest first. Each range over the
	// returned sequence runs the query again from the start.
	Search(ctx context.Context, q Query) iter.Seq2[*model.AnalysisRecord, error]

	// Stats summarises the stored history
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// Query filters Search. Zero fields do not filter.
type Query struct {
	// Text is a case-insensitive substring of the request text or explanation
	Text     string
	Attitude model.AttitudeMode
	Provider string
	Source   model.SourceType
	Tag      string
	Since    time.Time

	// Limit caps the number of records; zero means no cap
	Limit int
}

// Stats summarises the history
type Stats struct {
	Total      int            `json:"total"`
	ByAttitude map[string]int `json:"by_attitude"`
	ByProvider map[string]int `json:"by_provider"`
	BySource   map[string]int `json:"by_source"`
	TopTags    []TagCount     `json:"top_tags"`
}

// TagCount is a tag with its usage count
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

const topTagLimit = 10

func newStats() *Stats {
	return &Stats{
		ByAttitude: make(map[string]int),
		ByProvider: make(map[string]int),
		BySource:   make(map[string]int),
		TopTags:    []TagCount{},
	}
}

// NormalizeTag trims and lowercases a tag
func NormalizeTag(tag string) (string, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return "", &model.ValidationError{Field: "tag", Reason: "tag must not be empty"}
	}
	if utf8.RuneCountInString(tag) > 64 {
		return "", &model.ValidationError{Field: "tag", Reason: "tag longer than 64 characters"}
	}
	return tag, nil
}

// newRecord assembles a record with non-nil slices so stored and fresh copies compare equal
func newRecord(fp model.Fingerprint, req model.AnalysisRequest, res model.AnalysisResult) *model.AnalysisRecord {
	res.CounterArguments = nonNil(res.CounterArguments)
	res.LogicalFallacies = nonNil(res.LogicalFallacies)
	res.Recommendations = nonNil(res.Recommendations)
	res.CreatedAt = res.CreatedAt.UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	return (&model.AnalysisRecord{
		Fingerprint: fp,
		Request:     req,
		Result:      res,
		Tags:        []string{},
	}).Clone()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// matches applies a Query to an in-memory record. Used by backends without a query engine.
func (q Query) matches(rec *model.AnalysisRecord) bool {
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(rec.Request.Text), needle) &&
			!strings.Contains(strings.ToLower(rec.Result.Explanation), needle) {
			return false
		}
	}
	if q.Attitude != "" && rec.Request.Attitude != q.Attitude {
		return false
	}
	if q.Provider != "" && rec.Result.ProviderUsed != q.Provider {
		return false
	}
	if q.Source != "" && rec.Request.SourceType != q.Source {
		return false
	}
	if q.Tag != "" {
		tag, err := NormalizeTag(q.Tag)
		if err != nil || !rec.HasTag(tag) {
			return false
		}
	}
	if !q.Since.IsZero() && rec.Result.CreatedAt.Before(q.Since) {
		return false
	}
	return true
}

// newer orders records by createdAt desc, then fingerprint desc
func newer(a, b *model.AnalysisRecord) bool {
	if !a.Result.CreatedAt.Equal(b.Result.CreatedAt) {
		return a.Result.CreatedAt.After(b.Result.CreatedAt)
	}
	return a.Fingerprint > b.Fingerprint
}
