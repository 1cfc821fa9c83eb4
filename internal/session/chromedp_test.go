package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChromeLauncherRejectsMissingExecutable(t *testing.T) {
	t.Parallel()

	launch := NewChromeLauncher(Config{ExecPath: filepath.Join(t.TempDir(), "no-chrome")}, zap.NewNop())
	_, err := launch(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrRuntimeMissing)
	assert.False(t, IsRecoverableCreation(err))
}

func newDetachedHandle(t *testing.T) *ChromeHandle {
	t.Helper()
	profile, err := os.MkdirTemp(t.TempDir(), "chrome_profile_")
	require.NoError(t, err)
	browserCtx, browserCancel := context.WithCancel(context.Background())
	return &ChromeHandle{
		id:            filepath.Base(profile),
		profileDir:    profile,
		allocCancel:   func() {},
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		probeTimeout:  10 * time.Millisecond,
		logger:        zap.NewNop(),
	}
}

func TestChromeHandleCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newDetachedHandle(t)
	h.Close()
	h.Close()

	assert.False(t, h.IsAlive(context.Background()))
	_, statErr := os.Stat(h.profileDir)
	assert.True(t, os.IsNotExist(statErr))

	require.ErrorIs(t, h.Navigate(context.Background(), "https://example.com", time.Second), ErrSessionDead)
	_, err := h.Evaluate(context.Background(), "1")
	require.ErrorIs(t, err, ErrSessionDead)
	_, err = h.PageSource(context.Background())
	require.ErrorIs(t, err, ErrSessionDead)
}

func TestChromeHandleWrapMarksDeadBrowser(t *testing.T) {
	t.Parallel()

	h := newDetachedHandle(t)
	h.browserCancel()

	err := h.wrap(context.Background(), context.Canceled)
	assert.ErrorIs(t, err, ErrSessionDead)
	assert.True(t, IsRecoverable(err))

	callerCtx, cancel := context.WithCancel(context.Background())
	cancel()
	err = h.wrap(callerCtx, context.Canceled)
	assert.NotErrorIs(t, err, ErrSessionDead)
}

func TestForwardCancelPropagatesParent(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	require.Eventually(t, func() bool { return child.Err() != nil }, time.Second, time.Millisecond)
}
