package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/bsmeter/internal/model"
)

// File reads a fragment from disk. .html and .htm files are reduced to their visible text.
type File struct {
	Path     string
	Kind     model.SourceType
	MaxBytes int64
}

// Capture opens and reads the file
func (f File) Capture(ctx context.Context) (*Fragment, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".html", ".htm", ".xhtml":
		return HTML{R: fh, Kind: f.Kind, Origin: f.Path, MaxBytes: f.MaxBytes}.Capture(ctx)
	}
	return Reader{R: fh, Kind: f.Kind, Origin: f.Path, MaxBytes: f.MaxBytes}.Capture(ctx)
}
