package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/roundup-crawler/internal/metrics"
)

// HostLimiter spaces out requests to the same host. A zero QPS disables it.
type HostLimiter struct {
	qps      float64
	limiters sync.Map
}

// NewHostLimiter builds a limiter allowing qps requests per second per host.
func NewHostLimiter(qps float64) *HostLimiter {
	return &HostLimiter{qps: qps}
}

// Wait blocks until rawURL's host may be fetched again or ctx ends.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil || l.qps <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(parsed.Hostname())
	val, _ := l.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(l.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait host limiter: %w", err)
	}
	metrics.ObserveRateLimitDelay(host, time.Since(start))
	return nil
}
