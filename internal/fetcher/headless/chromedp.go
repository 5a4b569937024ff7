// Package headless provides the chromedp-backed fetch worker. Each worker owns
// one Chrome process and one tab; the processor rotates the worker whenever the
// browser itself fails.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/roundup-crawler/internal/extract"
	"github.com/JakeFAU/roundup-crawler/internal/fetcher"
	"github.com/JakeFAU/roundup-crawler/internal/roundup"
)

const (
	defaultNavigationTimeout = 20 * time.Second
	defaultStartupTimeout    = 30 * time.Second
	defaultWindowWidth       = 1920
	defaultWindowHeight      = 1080
)

// ErrWorkerClosed is reported by Fetch after the worker has been destroyed.
var ErrWorkerClosed = errors.New("headless worker closed")

// Config controls how browsers are launched and pages are loaded.
type Config struct {
	ExecPath          string
	Headless          bool
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	StartupTimeout    time.Duration
	ArticleLimit      int
	DomainQPS         float64
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = defaultWindowWidth
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = defaultWindowHeight
	}
	if c.ArticleLimit <= 0 {
		c.ArticleLimit = extract.DefaultLimit
	}
	return c
}

// Launcher creates and destroys headless workers.
type Launcher struct {
	cfg     Config
	limiter *fetcher.HostLimiter
	logger  *zap.Logger
}

var _ roundup.Lifecycle = (*Launcher)(nil)

// NewLauncher returns a Launcher; the host limiter is shared by every worker it
// creates so rotation does not reset politeness.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Launcher{
		cfg:     cfg,
		limiter: fetcher.NewHostLimiter(cfg.DomainQPS),
		logger:  logger,
	}
}

// Create starts a Chrome process and waits until its first tab is usable.
func (l *Launcher) Create(ctx context.Context) (roundup.Worker, error) {
	// The browser must outlive ctx; it is torn down only by Destroy.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	w := &Worker{
		cfg:           l.cfg,
		limiter:       l.limiter,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}

	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx)
	}()

	timer := time.NewTimer(l.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-timer.C:
		_ = w.Close()
		return nil, fmt.Errorf("start browser: timed out after %s", l.cfg.StartupTimeout)
	case <-ctx.Done():
		_ = w.Close()
		return nil, fmt.Errorf("start browser: %w", ctx.Err())
	}

	chromedp.ListenTarget(browserCtx, w.watchTarget)
	l.logger.Info("headless worker started",
		zap.Bool("headless", l.cfg.Headless),
		zap.Duration("nav_timeout", l.cfg.NavigationTimeout),
	)
	return w, nil
}

// Destroy shuts the worker's browser down. It tolerates workers that are
// already closed.
func (l *Launcher) Destroy(worker roundup.Worker) error {
	w, ok := worker.(*Worker)
	if !ok {
		return fmt.Errorf("destroy: unexpected worker type %T", worker)
	}
	if err := w.Close(); err != nil {
		return err
	}
	l.logger.Info("headless worker destroyed")
	return nil
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if l.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-features", "RendererCodeIntegrity"),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(l.cfg.WindowWidth, l.cfg.WindowHeight),
	)
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Worker fetches article text through a single Chrome tab. It is not safe for
// concurrent use.
type Worker struct {
	cfg     Config
	limiter *fetcher.HostLimiter

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	crashed   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ roundup.Worker = (*Worker)(nil)

// Fetch loads url and extracts its paragraph text. Timeouts and empty pages are
// soft failures; anything that means the browser is gone is fatal.
func (w *Worker) Fetch(ctx context.Context, url string) roundup.Result {
	if w.closed.Load() {
		return roundup.FatalFailure(ErrWorkerClosed)
	}
	if err := w.browserErr(); err != nil {
		return roundup.FatalFailure(err)
	}
	if err := w.limiter.Wait(ctx, url); err != nil {
		return roundup.SoftFailure(err)
	}

	navCtx, cancel := context.WithTimeout(w.browserCtx, w.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return w.classify(fmt.Errorf("load %s: %w", url, err))
	}

	text, err := extract.ArticleText(html, w.cfg.ArticleLimit)
	if err != nil {
		return roundup.SoftFailure(err)
	}
	if text == "" {
		return roundup.SoftFailure(roundup.ErrNoContent)
	}
	return roundup.Success(text)
}

// Close cancels the tab and then the browser process. Safe to call repeatedly.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		if w.browserCtx != nil {
			if err := chromedp.Cancel(w.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
				w.closeErr = fmt.Errorf("cancel browser: %w", err)
			}
		}
		if w.browserCancel != nil {
			w.browserCancel()
		}
		if w.allocCancel != nil {
			w.allocCancel()
		}
	})
	return w.closeErr
}

func (w *Worker) watchTarget(ev any) {
	switch ev.(type) {
	case *inspector.EventTargetCrashed, *inspector.EventDetached:
		w.crashed.Store(true)
	}
}

func (w *Worker) browserErr() error {
	if w.crashed.Load() {
		return errors.New("browser target crashed or detached")
	}
	if w.browserCtx != nil {
		if err := w.browserCtx.Err(); err != nil {
			return fmt.Errorf("browser context done: %w", err)
		}
	}
	return nil
}

func (w *Worker) classify(err error) roundup.Result {
	if browserErr := w.browserErr(); browserErr != nil {
		return roundup.FatalFailure(errors.Join(err, browserErr))
	}
	if isBrowserFailure(err) {
		return roundup.FatalFailure(err)
	}
	return roundup.SoftFailure(err)
}

var browserFailureMarkers = []string{
	"websocket",
	"target closed",
	"session closed",
	"connection reset",
	"broken pipe",
}

// isBrowserFailure reports whether err means the browser connection is lost
// rather than the page misbehaving.
func isBrowserFailure(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, chromedp.ErrChannelClosed),
		errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrInvalidTarget),
		errors.Is(err, chromedp.ErrInvalidWebsocketMessage),
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range browserFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
