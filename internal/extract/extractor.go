// Package extract turns a rendered video page into a crawler.Record. Fields
// are resolved through three tiers in strict precedence: embedded state JSON,
// DOM selectors, then raw patterns over the page source.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/clock/system"
	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/session"
)

// SessionSource hands out the caller's live session, replacing it when it
// has died.
type SessionSource interface {
	Ensure(ctx context.Context) (crawler.Session, error)
}

// Config tunes page loading and the per-item retry loop.
type Config struct {
	// MaxRetries bounds the extraction attempts per URL.
	MaxRetries int
	// PageLoadTimeout bounds a single navigation.
	PageLoadTimeout time.Duration
	// SettleDelay is waited after navigation so client-side state hydrates.
	SettleDelay time.Duration
	// RetryPause is waited between attempts.
	RetryPause time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 60 * time.Second
	}
	return c
}

// Extractor runs the load-and-analyze cycle for one URL at a time.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg.withDefaults(), logger: logger.Named("extract")}
}

// Extract loads url in a session from src and returns its Record. Recoverable
// session failures trigger a liveness re-check, a replacement session when
// needed, and a retry from the top. Other failures are recorded once. The
// returned Record always carries either content or an error.
func (e *Extractor) Extract(ctx context.Context, url string, src SessionSource) crawler.Record {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		rec, err := e.attempt(ctx, url, src)
		if err == nil {
			return rec
		}
		lastErr = err
		recoverable := isRetryable(err)
		if !recoverable || attempt == e.cfg.MaxRetries {
			e.logger.Debug("extraction failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Bool("recoverable", recoverable),
				zap.Error(err),
			)
			break
		}
		e.logger.Warn("session error, retrying extraction",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", e.cfg.MaxRetries),
			zap.Error(err),
		)
		if err := system.Sleep(ctx, e.cfg.RetryPause); err != nil {
			lastErr = err
			break
		}
	}
	return crawler.FailedRecord(url, lastErr)
}

func (e *Extractor) attempt(ctx context.Context, url string, src SessionSource) (crawler.Record, error) {
	sess, err := src.Ensure(ctx)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("acquire browser: %w", err)
	}
	snap, err := e.load(ctx, sess, url)
	if err != nil {
		return crawler.Record{}, err
	}
	return Analyze(url, snap), nil
}

// load navigates and captures the page. Liveness is re-checked before every
// step that needs the session, since a browser can die between calls.
func (e *Extractor) load(ctx context.Context, sess crawler.Session, url string) (Snapshot, error) {
	if err := sess.Navigate(ctx, url, e.cfg.PageLoadTimeout); err != nil {
		return Snapshot{}, err
	}
	if err := system.Sleep(ctx, e.cfg.SettleDelay); err != nil {
		return Snapshot{}, err
	}
	if !sess.IsAlive(ctx) {
		return Snapshot{}, fmt.Errorf("%w: died after page load", session.ErrSessionDead)
	}
	state, err := sess.Evaluate(ctx, stateScript)
	if err != nil {
		return Snapshot{}, err
	}
	if !sess.IsAlive(ctx) {
		return Snapshot{}, fmt.Errorf("%w: died before reading page source", session.ErrSessionDead)
	}
	html, err := sess.PageSource(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{State: state, HTML: html}, nil
}

func isRetryable(err error) bool {
	var cerr *session.CreationError
	if errors.As(err, &cerr) {
		return session.IsRecoverableCreation(cerr.Err)
	}
	return session.IsRecoverable(err)
}
