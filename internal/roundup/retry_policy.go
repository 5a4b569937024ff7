package roundup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultMaxAttempts matches one initial fetch plus one retry.
const DefaultMaxAttempts = 2

var errFatalWorker = errors.New("fetch worker failed")

// RetryConfig tunes RetryPolicy.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryPolicy retries soft fetch failures for a single URL. Fatal failures are
// returned on the spot: the worker is broken, not the URL.
type RetryPolicy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *zap.Logger
}

// NewRetryPolicy builds a policy, falling back to DefaultMaxAttempts.
func NewRetryPolicy(cfg RetryConfig, logger *zap.Logger) *RetryPolicy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryPolicy{
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger,
	}
}

// MaxAttempts reports the configured attempt bound.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Attempt fetches url through worker, retrying soft failures up to the bound.
// The returned Result is Success, the last SoftFailure, or a FatalFailure.
// The error is non-nil only when ctx ended before the attempts were used up;
// an in-flight fetch is never cancelled by ctx.
func (p *RetryPolicy) Attempt(ctx context.Context, worker Worker, url string) (Result, error) {
	fetchCtx := context.WithoutCancel(ctx)

	var (
		last     Result
		attempts int
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		last = worker.Fetch(fetchCtx, url)
		switch last.Outcome {
		case OutcomeSuccess:
			return nil
		case OutcomeFatalFailure:
			return backoff.Permanent(errFatalWorker)
		default:
			if last.Err == nil {
				last.Err = ErrNoContent
			}
			return last.Err
		}
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Info("fetch attempt failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	_ = backoff.RetryNotify(op, p.schedule(ctx), notify)
	last.Attempts = attempts

	switch {
	case attempts == 0:
		return Result{}, fmt.Errorf("fetch %s not started: %w", url, ctx.Err())
	case last.Outcome == OutcomeSuccess, last.Outcome == OutcomeFatalFailure:
		return last, nil
	case attempts < p.maxAttempts && ctx.Err() != nil:
		return last, fmt.Errorf("fetch %s interrupted after %d attempts: %w", url, attempts, ctx.Err())
	default:
		return last, nil
	}
}

func (p *RetryPolicy) schedule(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.initialBackoff > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.initialBackoff
		exp.MaxInterval = p.maxBackoff
		exp.MaxElapsedTime = 0
		b = exp
	}
	// #nosec G115 -- maxAttempts is validated to be positive.
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxAttempts-1)), ctx)
}
