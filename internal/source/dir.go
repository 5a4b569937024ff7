// Package source reads roundup documents from a directory of JSON files, the
// output of the upstream extraction step.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/JakeFAU/roundup-crawler/internal/roundup"
)

// ErrMalformed marks a document that cannot be processed as a roundup record.
var ErrMalformed = errors.New("malformed roundup document")

const pattern = "*.json"

// Dir lists and decodes the *.json documents in a single directory.
type Dir struct {
	dir string
}

var _ roundup.Source = (*Dir)(nil)

// NewDir checks that dir exists and is a directory.
func NewDir(dir string) (*Dir, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input dir %s is not a directory", dir)
	}
	return &Dir{dir: dir}, nil
}

// List returns one Ref per document, sorted by file name.
func (d *Dir) List(ctx context.Context) ([]roundup.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(d.dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	sort.Strings(matches)
	refs := make([]roundup.Ref, 0, len(matches))
	for _, path := range matches {
		refs = append(refs, roundup.Ref{Key: roundup.KeyFromPath(path), Path: path})
	}
	return refs, nil
}

// Load decodes the document behind ref. Unreadable files, invalid JSON, a
// missing story and a bias category that is not a list of strings all wrap
// ErrMalformed; they are record-level errors, not run-level ones. Members
// the pipeline does not read are kept verbatim on the Record.
func (d *Dir) Load(ctx context.Context, ref roundup.Ref) (roundup.Record, error) {
	if err := ctx.Err(); err != nil {
		return roundup.Record{}, fmt.Errorf("load %s: %w", ref.Path, err)
	}
	// #nosec G304 -- ref.Path comes from List over the configured input dir.
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return roundup.Record{}, fmt.Errorf("read %s: %w: %w", ref.Path, ErrMalformed, err)
	}
	var rec roundup.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return roundup.Record{}, fmt.Errorf("decode %s: %w: %w", ref.Path, ErrMalformed, err)
	}
	if rec.Story == nil {
		return roundup.Record{}, fmt.Errorf("%s: %w: missing story", ref.Path, ErrMalformed)
	}

	key := ref.Key
	if key == "" {
		key = roundup.KeyFromPath(ref.Path)
	}
	rec.Key = key
	if rec.Headline == "" {
		rec.Headline = roundup.HeadlineFromKey(key)
	}
	rec.Source = ref.Path
	return rec, nil
}
