// Package collyfetcher implements the static fetch worker using gocolly. It
// does not execute JavaScript, so it suits sources that render server-side and
// environments without Chrome.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/roundup-crawler/internal/extract"
	"github.com/JakeFAU/roundup-crawler/internal/fetcher"
	"github.com/JakeFAU/roundup-crawler/internal/roundup"
)

const defaultTimeout = 20 * time.Second

// ErrWorkerClosed is reported by Fetch after the worker has been destroyed.
var ErrWorkerClosed = errors.New("static worker closed")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	ArticleLimit  int
	DomainQPS     float64
}

// Launcher creates static workers sharing one transport and host limiter.
type Launcher struct {
	cfg       Config
	transport http.RoundTripper
	limiter   *fetcher.HostLimiter
	logger    *zap.Logger
}

var _ roundup.Lifecycle = (*Launcher)(nil)

// NewLauncher builds a Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ArticleLimit <= 0 {
		cfg.ArticleLimit = extract.DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		limiter:   fetcher.NewHostLimiter(cfg.DomainQPS),
		logger:    logger,
	}
}

// Create returns a fresh worker. It never fails unless ctx is already done.
func (l *Launcher) Create(ctx context.Context) (roundup.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create static worker: %w", err)
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(l.transport)
	return &Worker{
		cfg:           l.cfg,
		transport:     l.transport,
		limiter:       l.limiter,
		logger:        l.logger,
		baseCollector: c,
	}, nil
}

// Destroy marks the worker closed; idle connections stay pooled for the next one.
func (l *Launcher) Destroy(worker roundup.Worker) error {
	w, ok := worker.(*Worker)
	if !ok {
		return fmt.Errorf("destroy: unexpected worker type %T", worker)
	}
	w.closed.Store(true)
	return nil
}

// Worker fetches article text with plain HTTP GETs.
type Worker struct {
	cfg           Config
	transport     http.RoundTripper
	limiter       *fetcher.HostLimiter
	logger        *zap.Logger
	baseCollector *colly.Collector
	closed        atomic.Bool
}

var _ roundup.Worker = (*Worker)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Fetch downloads url and extracts its paragraph text. Every failure is soft:
// an HTTP client has no state that a retry on a new worker would repair.
func (w *Worker) Fetch(ctx context.Context, url string) roundup.Result {
	if w.closed.Load() {
		return roundup.FatalFailure(ErrWorkerClosed)
	}
	if err := w.limiter.Wait(ctx, url); err != nil {
		return roundup.SoftFailure(err)
	}

	var (
		body     []byte
		fetchErr error
	)
	collector, robots := w.buildCollector()
	w.configureCollectorHooks(collector, &body, &fetchErr)

	if err := w.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return roundup.SoftFailure(err)
	}
	if reason, ok := robots.assumedAllowAll(); ok {
		w.logger.Debug("robots.txt unavailable, treated as allow-all",
			zap.String("url", url),
			zap.String("reason", reason),
		)
	}

	text, err := extract.ArticleText(string(body), w.cfg.ArticleLimit)
	if err != nil {
		return roundup.SoftFailure(err)
	}
	if text == "" {
		return roundup.SoftFailure(roundup.ErrNoContent)
	}
	return roundup.Success(text)
}

func (w *Worker) buildCollector() (*colly.Collector, *robotsCheck) {
	collector := w.baseCollector.Clone()
	if w.cfg.UserAgent != "" {
		collector.UserAgent = w.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !w.cfg.RespectRobots
	collector.SetRequestTimeout(w.cfg.Timeout)

	baseTransport := w.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	if !w.cfg.RespectRobots {
		collector.WithTransport(baseTransport)
		return collector, nil
	}
	robots := &robotsCheck{}
	collector.WithTransport(newRobotsTransport(baseTransport, robots))
	return collector, robots
}

func (w *Worker) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (w *Worker) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return fmt.Errorf("%w: %s", ErrRobotsDisallowed, url)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
