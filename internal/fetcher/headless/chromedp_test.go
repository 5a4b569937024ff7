package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/roundup-crawler/internal/extract"
	"github.com/JakeFAU/roundup-crawler/internal/roundup"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	assert.Equal(t, 20*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, defaultStartupTimeout, cfg.StartupTimeout)
	assert.Equal(t, 1920, cfg.WindowWidth)
	assert.Equal(t, 1080, cfg.WindowHeight)
	assert.Equal(t, extract.DefaultLimit, cfg.ArticleLimit)

	custom := Config{NavigationTimeout: time.Second, ArticleLimit: 10}.withDefaults()
	assert.Equal(t, time.Second, custom.NavigationTimeout)
	assert.Equal(t, 10, custom.ArticleLimit)
}

func TestIsBrowserFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "channel closed", err: fmt.Errorf("run: %w", chromedp.ErrChannelClosed), want: true},
		{name: "invalid context", err: chromedp.ErrInvalidContext, want: true},
		{name: "invalid target", err: chromedp.ErrInvalidTarget, want: true},
		{name: "eof", err: fmt.Errorf("read: %w", io.EOF), want: true},
		{name: "net closed", err: net.ErrClosed, want: true},
		{name: "websocket text", err: errors.New("could not dial websocket"), want: true},
		{name: "target closed text", err: errors.New("Target closed"), want: true},
		{name: "deadline", err: fmt.Errorf("load: %w", context.DeadlineExceeded), want: false},
		{name: "dns", err: errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isBrowserFailure(tc.err))
		})
	}
}

func TestWorkerClassify(t *testing.T) {
	t.Parallel()

	w := &Worker{browserCtx: context.Background()}
	soft := w.classify(fmt.Errorf("load: %w", context.DeadlineExceeded))
	assert.Equal(t, roundup.OutcomeSoftFailure, soft.Outcome)

	fatal := w.classify(chromedp.ErrChannelClosed)
	assert.Equal(t, roundup.OutcomeFatalFailure, fatal.Outcome)

	w.watchTarget(&inspector.EventTargetCrashed{})
	crashed := w.classify(fmt.Errorf("load: %w", context.DeadlineExceeded))
	assert.Equal(t, roundup.OutcomeFatalFailure, crashed.Outcome)
}

func TestWorkerClassifyDeadBrowserContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &Worker{browserCtx: ctx}

	res := w.classify(errors.New("navigate failed"))
	assert.Equal(t, roundup.OutcomeFatalFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestWorkerFetchAfterClose(t *testing.T) {
	t.Parallel()

	w := &Worker{}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	res := w.Fetch(context.Background(), "https://example.com")
	assert.Equal(t, roundup.OutcomeFatalFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrWorkerClosed)
}

type otherWorker struct{}

func (otherWorker) Fetch(context.Context, string) roundup.Result { return roundup.Success("x") }

func TestLauncherDestroyRejectsForeignWorker(t *testing.T) {
	t.Parallel()

	l := NewLauncher(Config{}, zap.NewNop())
	require.Error(t, l.Destroy(otherWorker{}))
	require.NoError(t, l.Destroy(&Worker{}))
}

func TestAllocatorOptionsCount(t *testing.T) {
	t.Parallel()

	base := NewLauncher(Config{Headless: true}, nil).allocatorOptions()
	withExtras := NewLauncher(Config{Headless: true, UserAgent: "ua", ExecPath: "/bin/chrome"}, nil).allocatorOptions()
	assert.Len(t, withExtras, len(base)+2)
}
