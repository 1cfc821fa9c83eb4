package session

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrSessionDead indicates the rendering engine behind a session is gone.
	ErrSessionDead = errors.New("session is not alive")
	// ErrNotResponsive indicates a freshly launched session never answered its liveness probe.
	ErrNotResponsive = errors.New("session created but not responsive")
	// ErrRuntimeMissing indicates the browser executable could not be found.
	ErrRuntimeMissing = errors.New("browser runtime not available")
	// ErrScript indicates page script evaluation raised an exception.
	ErrScript = errors.New("script evaluation failed")
)

// CreationError reports a factory failure after its attempts were spent.
type CreationError struct {
	Attempts int
	Err      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("session creation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

var sessionKeywords = []string{
	"target window already closed",
	"target closed",
	"no such window",
	"web view not found",
	"invalid context",
	"websocket",
	"session",
	"connection",
	"service",
}

var creationKeywords = []string{
	"connection refused",
	"not reachable",
	"unable to connect",
	"cannot connect",
	"can not connect",
	"session not created",
	"failed to start",
	"websocket url timeout",
	"127.0.0.1",
	"devtools",
	"service",
}

// IsRecoverable reports whether err is a session-state failure that a fresh
// session may cure. Caller cancellation and script exceptions are never
// recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrScript) {
		return false
	}
	if errors.Is(err, ErrSessionDead) || errors.Is(err, ErrNotResponsive) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return containsAny(err.Error(), sessionKeywords)
}

// IsRecoverableCreation reports whether a launch failure looks like a
// transient start-up race worth another attempt.
func IsRecoverableCreation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRuntimeMissing) || errors.Is(err, exec.ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotResponsive) || errors.Is(err, ErrSessionDead) {
		return true
	}
	return containsAny(err.Error(), creationKeywords)
}

func containsAny(msg string, keywords []string) bool {
	msg = strings.ToLower(msg)
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
