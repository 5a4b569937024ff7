package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JakeFAU/roundup-crawler/internal/metrics"
)

// ErrRobotsDisallowed reports an article URL excluded by its site's robots.txt.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

const (
	robotsAttempts        = 4
	robotsFirstWait       = 250 * time.Millisecond
	robotsMaxWait         = time.Second
	robotsAllowAllBody    = "User-agent: *\nAllow: /"
	robotsReasonHandshake = "TLS handshake timeout"
)

// robotsCheck records how robots.txt was settled for one article fetch. A
// site whose robots.txt keeps timing out is treated as allow-all: the article
// request that follows will fail on its own if the host is really down, and
// that failure is the one the retry policy should see.
type robotsCheck struct {
	allowAllReason string
}

func (c *robotsCheck) assumedAllowAll() (string, bool) {
	if c == nil || c.allowAllReason == "" {
		return "", false
	}
	return c.allowAllReason, true
}

// robotsTransport retries robots.txt requests that fail with a transient
// timeout and passes every other request straight through.
type robotsTransport struct {
	base      http.RoundTripper
	check     *robotsCheck
	firstWait time.Duration
}

func newRobotsTransport(base http.RoundTripper, check *robotsCheck) *robotsTransport {
	return &robotsTransport{base: base, check: check, firstWait: robotsFirstWait}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}
	return t.fetchRobots(req)
}

func (t *robotsTransport) fetchRobots(req *http.Request) (*http.Response, error) {
	op := func() (*http.Response, error) {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	resp, err := backoff.RetryWithData(op, t.schedule(req.Context()))
	switch {
	case err == nil:
		return resp, nil
	case req.Context().Err() != nil:
		return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, req.Context().Err())
	case isTransientTLSError(err):
		t.assumeAllowAll(robotsReasonHandshake)
		return allowAllResponse(req), nil
	default:
		return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
	}
}

func (t *robotsTransport) schedule(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = t.firstWait
	exp.MaxInterval = robotsMaxWait
	if exp.MaxInterval < t.firstWait {
		exp.MaxInterval = t.firstWait
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, robotsAttempts-1), ctx)
}

func (t *robotsTransport) assumeAllowAll(reason string) {
	metrics.ObserveRobotsFallback()
	if t.check != nil && t.check.allowAllReason == "" {
		t.check.allowAllReason = reason
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(robotsAllowAllBody)),
		ContentLength: int64(len(robotsAllowAllBody)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
