package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/clock/system"
	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
)

// creationJitter is the random spread added to each creation backoff.
const creationJitter = time.Second

// Factory creates sessions one at a time. Launching many browsers at once is
// the main source of start-up failures, so every attempt passes through a
// single gate preceded by a short random delay.
type Factory struct {
	cfg    Config
	launch LaunchFunc
	logger *zap.Logger

	gate   sync.Mutex
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(minDelay, maxDelay time.Duration) time.Duration
}

// NewFactory builds a Factory around launch. A nil launch uses chromedp.
func NewFactory(cfg Config, launch LaunchFunc, logger *zap.Logger) *Factory {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if launch == nil {
		launch = NewChromeLauncher(cfg, logger)
	}
	return &Factory{
		cfg:    cfg,
		launch: launch,
		logger: logger.Named("session_factory"),
		sleep:  system.Sleep,
		jitter: randomBetween,
	}
}

// Create launches and probes a new session, retrying recoverable start-up
// failures with jittered exponential backoff. Each attempt gets a fresh
// profile dir.
func (f *Factory) Create(ctx context.Context) (crawler.Session, error) {
	f.gate.Lock()
	defer f.gate.Unlock()

	var (
		sess     crawler.Session
		attempts int
	)
	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f.sleep(ctx, f.jitter(f.cfg.GateDelayMin, f.cfg.GateDelayMax)); err != nil {
				return err
			}
			attempts++
			s, err := f.attempt(ctx)
			if err != nil {
				return err
			}
			sess = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(f.cfg.MaxAttempts)),
		retry.RetryIf(IsRecoverableCreation),
		retry.Delay(f.cfg.BackoffBase),
		retry.MaxDelay(f.cfg.BackoffMax),
		retry.MaxJitter(creationJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if int(n)+1 >= f.cfg.MaxAttempts {
				return
			}
			f.logger.Warn("session creation failed, retrying",
				zap.Uint("attempt", n+1),
				zap.Int("max_attempts", f.cfg.MaxAttempts),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, &CreationError{Attempts: attempts, Err: err}
	}
	f.logger.Debug("session created", zap.String("session", sess.ID()), zap.Int("attempt", attempts))
	return sess, nil
}

func (f *Factory) attempt(ctx context.Context) (crawler.Session, error) {
	profile, err := os.MkdirTemp(f.cfg.ProfileRoot, "chrome_profile_")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	sess, err := f.launch(ctx, profile)
	if err != nil {
		if rmErr := os.RemoveAll(profile); rmErr != nil {
			f.logger.Debug("remove profile dir failed", zap.String("dir", profile), zap.Error(rmErr))
		}
		return nil, err
	}
	if err := f.probe(ctx, sess); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

func (f *Factory) probe(ctx context.Context, sess crawler.Session) error {
	err := retry.Do(
		func() error {
			if !sess.IsAlive(ctx) {
				return ErrNotResponsive
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(f.cfg.ProbeAttempts)),
		retry.Delay(f.cfg.ProbeInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("probe session %s: %w", sess.ID(), err)
	}
	return nil
}

func randomBetween(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	bound := big.NewInt(int64(maxDelay - minDelay))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return minDelay + (maxDelay-minDelay)/2
	}
	return minDelay + time.Duration(n.Int64())
}
