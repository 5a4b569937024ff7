package roundup

import (
	"context"
	"errors"
	"time"
)

// ErrNoContent indicates a page rendered without any readable text.
var ErrNoContent = errors.New("no article content")

// Worker fetches a page and returns its extracted article text. Navigation
// mutates worker state, so callers must not assume a clean page between calls.
type Worker interface {
	Fetch(ctx context.Context, url string) Result
}

// Lifecycle creates and tears down workers. Destroy must be called exactly
// once for every worker returned by Create.
type Lifecycle interface {
	Create(ctx context.Context) (Worker, error)
	Destroy(worker Worker) error
}

// Source enumerates and loads input documents.
type Source interface {
	List(ctx context.Context) ([]Ref, error)
	Load(ctx context.Context, ref Ref) (Record, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
