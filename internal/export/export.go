// Package export writes the analysis history to a portable JSON document and reads it back.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/store"
)

// FormatVersion is the document version written by Export
const FormatVersion = 1

// Document is the export file layout
type Document struct {
	Version    int                     `json:"version"`
	ExportedAt time.Time               `json:"exported_at"`
	Analyses   []*model.AnalysisRecord `json:"analyses"`
}

// Export collects the records matching q into a document
func Export(ctx context.Context, st store.Store, q store.Query) (*Document, error) {
	doc := &Document{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC(),
		Analyses:   []*model.AnalysisRecord{},
	}
	for rec, err := range st.Search(ctx, q) {
		if err != nil {
			return nil, err
		}
		doc.Analyses = append(doc.Analyses, rec)
	}
	return doc, nil
}

// Encode writes doc as indented JSON
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Decode reads a document and checks its version
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	if doc.Version < 1 || doc.Version > FormatVersion {
		return nil, fmt.Errorf("unsupported export version %d", doc.Version)
	}
	return &doc, nil
}

// ImportStats counts what Import did
type ImportStats struct {
	Total    int `json:"total"`
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Skipped  int `json:"skipped"`
}

// Import loads every record through CreateIfAbsent, so importing twice changes nothing.
// Records whose fingerprint does not match their request are skipped.
func Import(ctx context.Context, st store.Store, doc *Document, logger *zap.Logger) (*ImportStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stats := &ImportStats{}

	for _, rec := range doc.Analyses {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Total++

		if rec == nil || rec.Request.Validate() != nil {
			stats.Skipped++
			logger.Warn("skipping invalid record")
			continue
		}
		fp := model.FingerprintOf(rec.Request)
		if rec.Fingerprint != fp {
			stats.Skipped++
			logger.Warn("skipping record with mismatched fingerprint",
				zap.String("fingerprint", rec.Fingerprint.Short()),
				zap.String("expected", fp.Short()))
			continue
		}

		_, created, err := st.CreateIfAbsent(ctx, fp, rec.Request, rec.Result)
		if err != nil {
			return stats, fmt.Errorf("import %s: %w", fp.Short(), err)
		}
		if created {
			stats.Created++
		} else {
			stats.Existing++
		}

		for _, tag := range rec.Tags {
			if err := st.AddTag(ctx, fp, tag); err != nil {
				logger.Warn("skipping tag", zap.String("fingerprint", fp.Short()), zap.String("tag", tag), zap.Error(err))
			}
		}
	}

	return stats, nil
}
