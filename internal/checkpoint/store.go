// Package checkpoint owns the cumulative results of a run: the processed
// records and the error records. It restores them from a blob backend at
// startup, decides which inputs are already handled, and writes the full
// snapshot back on every save.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/roundup-crawler/internal/metrics"
	"github.com/JakeFAU/roundup-crawler/internal/roundup"
	"github.com/JakeFAU/roundup-crawler/internal/storage"
)

const (
	// DefaultDataFile holds the processed records.
	DefaultDataFile = "data.json"
	// DefaultErrorsFile holds the error records.
	DefaultErrorsFile = "errors.json"

	corruptSuffix = ".corrupt"
	contentType   = "application/json"
	jsonIndent    = "    "
)

// ErrCorrupt is returned by a read-only Open when a snapshot cannot be decoded.
var ErrCorrupt = errors.New("checkpoint snapshot is corrupt")

// ErrReadOnly is returned by Save on a store opened read-only.
var ErrReadOnly = errors.New("checkpoint opened read-only")

// Config names the two snapshot objects inside the blob backend. A ReadOnly
// store never writes: a corrupt snapshot fails Open instead of being set
// aside, and Save is refused.
type Config struct {
	DataFile   string
	ErrorsFile string
	ReadOnly   bool
}

func (c Config) withDefaults() Config {
	if c.DataFile == "" {
		c.DataFile = DefaultDataFile
	}
	if c.ErrorsFile == "" {
		c.ErrorsFile = DefaultErrorsFile
	}
	return c
}

// Store is the in-memory view of CumulativeResults plus the identity index
// used for resume. It is safe for concurrent use.
type Store struct {
	blobs  storage.BlobStore
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	results []roundup.Record
	errs    []roundup.ErrorRecord

	keys            map[string]struct{}
	errorPaths      map[string]struct{}
	legacyHeadlines map[string]struct{}
}

// Open loads any prior snapshot. A missing object means no prior progress; an
// undecodable one is set aside as "<name>.corrupt" and the run starts fresh.
// Any other backend error is returned, since overwriting state that could not
// be read would lose it.
func Open(ctx context.Context, blobs storage.BlobStore, cfg Config, logger *zap.Logger) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("checkpoint: blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		blobs:           blobs,
		cfg:             cfg.withDefaults(),
		logger:          logger,
		keys:            make(map[string]struct{}),
		errorPaths:      make(map[string]struct{}),
		legacyHeadlines: make(map[string]struct{}),
	}

	var results []roundup.Record
	if err := s.load(ctx, s.cfg.DataFile, &results); err != nil {
		return nil, err
	}
	var errs []roundup.ErrorRecord
	if err := s.load(ctx, s.cfg.ErrorsFile, &errs); err != nil {
		return nil, err
	}
	for _, rec := range results {
		s.addResult(rec)
	}
	for _, e := range errs {
		s.addError(e)
	}

	s.logger.Info("checkpoint restored",
		zap.Int("records", len(s.results)),
		zap.Int("errors", len(s.errs)),
	)
	return s, nil
}

func (s *Store) load(ctx context.Context, name string, dest any) error {
	data, err := s.blobs.GetObject(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read checkpoint %s: %w", name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		if s.cfg.ReadOnly {
			return fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
		}
		s.logger.Warn("checkpoint unreadable, starting fresh",
			zap.String("object", name),
			zap.Error(err),
		)
		if _, putErr := s.blobs.PutObject(ctx, name+corruptSuffix, contentType, bytes.NewReader(data)); putErr != nil {
			s.logger.Warn("failed to preserve corrupt checkpoint",
				zap.String("object", name+corruptSuffix),
				zap.Error(putErr),
			)
		}
		return nil
	}
	return nil
}

func (s *Store) addResult(rec roundup.Record) {
	s.results = append(s.results, rec)
	if rec.Key != "" {
		s.keys[rec.Key] = struct{}{}
		return
	}
	if rec.Headline != "" {
		s.legacyHeadlines[roundup.NormalizeHeadline(rec.Headline)] = struct{}{}
	}
}

func (s *Store) addError(e roundup.ErrorRecord) {
	s.errs = append(s.errs, e)
	if e.Key != "" {
		s.keys[e.Key] = struct{}{}
	}
	if e.Path != "" {
		s.errorPaths[e.Path] = struct{}{}
		s.keys[roundup.KeyFromPath(e.Path)] = struct{}{}
	}
}

// Handled reports whether ref already has a persisted outcome.
func (s *Store) Handled(ref roundup.Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handledLocked(ref)
}

func (s *Store) handledLocked(ref roundup.Ref) bool {
	key := ref.Key
	if key == "" {
		key = roundup.KeyFromPath(ref.Path)
	}
	if _, ok := s.keys[key]; ok {
		return true
	}
	if _, ok := s.errorPaths[ref.Path]; ok && ref.Path != "" {
		return true
	}
	if len(s.legacyHeadlines) > 0 {
		if _, ok := s.legacyHeadlines[roundup.NormalizeHeadline(roundup.HeadlineFromKey(key))]; ok {
			return true
		}
	}
	return false
}

// Reconcile filters refs down to those without a persisted outcome, keeping
// their order, and reports how many were skipped.
func (s *Store) Reconcile(refs []roundup.Ref) ([]roundup.Ref, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]roundup.Ref, 0, len(refs))
	skipped := 0
	for _, ref := range refs {
		if s.handledLocked(ref) {
			skipped++
			continue
		}
		pending = append(pending, ref)
	}
	return pending, skipped
}

// AppendResult records a fully processed record.
func (s *Store) AppendResult(rec roundup.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addResult(rec.Clone())
}

// AppendError records a terminal record-level failure.
func (s *Store) AppendError(e roundup.ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addError(e)
}

// Save writes both snapshots in full. Both writes are attempted even if the
// first fails.
func (s *Store) Save(ctx context.Context) error {
	if s.cfg.ReadOnly {
		return ErrReadOnly
	}
	start := time.Now()
	s.mu.Lock()
	dataPayload, dataErr := marshalSnapshot(s.results)
	errorsPayload, errorsErr := marshalSnapshot(s.errs)
	s.mu.Unlock()

	if err := errors.Join(dataErr, errorsErr); err != nil {
		metrics.ObserveCheckpointFlush(err, time.Since(start))
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	var errs []error
	if _, err := s.blobs.PutObject(ctx, s.cfg.DataFile, contentType, bytes.NewReader(dataPayload)); err != nil {
		errs = append(errs, fmt.Errorf("write %s: %w", s.cfg.DataFile, err))
	}
	if _, err := s.blobs.PutObject(ctx, s.cfg.ErrorsFile, contentType, bytes.NewReader(errorsPayload)); err != nil {
		errs = append(errs, fmt.Errorf("write %s: %w", s.cfg.ErrorsFile, err))
	}
	err := errors.Join(errs...)
	metrics.ObserveCheckpointFlush(err, time.Since(start))
	return err
}

func marshalSnapshot[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", jsonIndent)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Results returns a copy of the processed records in append order.
func (s *Store) Results() []roundup.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]roundup.Record, len(s.results))
	for i, rec := range s.results {
		out[i] = rec.Clone()
	}
	return out
}

// Errors returns a copy of the error records in append order.
func (s *Store) Errors() []roundup.ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]roundup.ErrorRecord(nil), s.errs...)
}

// Counts reports the number of processed and errored records.
func (s *Store) Counts() (results, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results), len(s.errs)
}
