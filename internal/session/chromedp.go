package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
)

// LaunchFunc starts a browser whose persistent state lives in profileDir.
type LaunchFunc func(ctx context.Context, profileDir string) (crawler.Session, error)

// ChromeHandle implements crawler.Session on top of a dedicated chromedp
// allocator, so every handle runs its own browser process.
type ChromeHandle struct {
	id            string
	profileDir    string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	probeTimeout  time.Duration
	logger        *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewChromeLauncher returns a LaunchFunc that starts Chrome via chromedp
// with the provided configuration.
func NewChromeLauncher(cfg Config, logger *zap.Logger) LaunchFunc {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, profileDir string) (crawler.Session, error) {
		if cfg.ExecPath != "" {
			if _, err := os.Stat(cfg.ExecPath); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrRuntimeMissing, cfg.ExecPath)
			}
		}
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("enable-automation", false),
			chromedp.UserDataDir(profileDir),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		stop := forwardCancel(ctx, browserCancel)
		err := chromedp.Run(browserCtx, userAgentAction(cfg.UserAgent))
		stop()
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}

		h := &ChromeHandle{
			id:            filepath.Base(profileDir),
			profileDir:    profileDir,
			allocCancel:   allocCancel,
			browserCtx:    browserCtx,
			browserCancel: browserCancel,
			probeTimeout:  cfg.ProbeTimeout,
			logger:        logger,
		}
		return h, nil
	}
}

func userAgentAction(ua string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if ua == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// ID returns the handle identifier, derived from its profile directory.
func (h *ChromeHandle) ID() string {
	return h.id
}

// IsAlive asks the browser for the current location with a short timeout.
func (h *ChromeHandle) IsAlive(ctx context.Context) bool {
	if h.closed.Load() || h.browserCtx.Err() != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(h.browserCtx, h.probeTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var location string
	return chromedp.Run(probeCtx, chromedp.Location(&location)) == nil
}

// Navigate loads url and waits until the document body is ready.
func (h *ChromeHandle) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if h.closed.Load() {
		return ErrSessionDead
	}
	navCtx, cancel := context.WithTimeout(h.browserCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return h.wrap(ctx, fmt.Errorf("navigate %s: %w", url, err))
	}
	return nil
}

// Evaluate runs script and returns the raw JSON value it produced.
func (h *ChromeHandle) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	if h.closed.Load() {
		return nil, ErrSessionDead
	}
	evalCtx, cancel := context.WithTimeout(h.browserCtx, 30*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var raw []byte
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(script, &raw)); err != nil {
		var exc *runtime.ExceptionDetails
		if errors.As(err, &exc) {
			return nil, fmt.Errorf("%w: %s", ErrScript, exc.Error())
		}
		return nil, h.wrap(ctx, fmt.Errorf("evaluate: %w", err))
	}
	return json.RawMessage(raw), nil
}

// PageSource returns the outer HTML of the current document.
func (h *ChromeHandle) PageSource(ctx context.Context) (string, error) {
	if h.closed.Load() {
		return "", ErrSessionDead
	}
	srcCtx, cancel := context.WithTimeout(h.browserCtx, 30*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var html string
	if err := chromedp.Run(srcCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", h.wrap(ctx, fmt.Errorf("page source: %w", err))
	}
	return html, nil
}

// Close shuts the browser down gracefully, falls back to killing the
// allocator, and removes the profile directory.
func (h *ChromeHandle) Close() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(h.browserCtx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Debug("graceful browser shutdown failed", zap.String("session", h.id), zap.Error(err))
			}
		case <-shutdownCtx.Done():
			h.logger.Debug("graceful browser shutdown timed out", zap.String("session", h.id))
		}
		cancel()
		h.browserCancel()
		h.allocCancel()
		if err := os.RemoveAll(h.profileDir); err != nil {
			h.logger.Debug("remove profile dir failed", zap.String("dir", h.profileDir), zap.Error(err))
		}
	})
}

// wrap marks failures as session-state errors once the browser context is
// gone, unless the caller itself gave up.
func (h *ChromeHandle) wrap(ctx context.Context, err error) error {
	if ctx != nil && ctx.Err() != nil {
		return err
	}
	if h.browserCtx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrSessionDead, err)
	}
	return err
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
