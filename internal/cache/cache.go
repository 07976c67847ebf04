// Package cache keeps recently used analysis records in memory.
package cache

import (
	"github.com/ppiankov/bsmeter/internal/model"
)

// RecordCache is a fingerprint-keyed record cache
type RecordCache interface {
	Get(fp model.Fingerprint) (*model.AnalysisRecord, bool)
	Set(rec *model.AnalysisRecord)
	Delete(fp model.Fingerprint)
	Clear()
}

// Key namespaces a fingerprint so other entries can share the backing cache
func Key(fp model.Fingerprint) string {
	return "bsmeter:v1:" + string(fp)
}
