package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
)

// LeaseEvent describes a change to the session held by a Lease.
type LeaseEvent struct {
	Kind      LeaseEventKind
	SessionID string
	Err       error
}

// LeaseEventKind enumerates lease transitions.
type LeaseEventKind string

// Lease transitions reported to observers.
const (
	LeaseCreated  LeaseEventKind = "created"
	LeaseReplaced LeaseEventKind = "replaced"
	LeaseFailed   LeaseEventKind = "failed"
)

// Lease is the exclusive holder of one worker's session. It is not safe for
// concurrent use; ownership, not locking, keeps a session single-threaded.
type Lease struct {
	factory  crawler.SessionFactory
	current  crawler.Session
	logger   *zap.Logger
	observer func(LeaseEvent)
}

// LeaseOption customizes a Lease.
type LeaseOption func(*Lease)

// WithObserver registers a callback for lease transitions.
func WithObserver(fn func(LeaseEvent)) LeaseOption {
	return func(l *Lease) {
		l.observer = fn
	}
}

// NewLease creates an empty Lease bound to factory.
func NewLease(factory crawler.SessionFactory, logger *zap.Logger, opts ...LeaseOption) *Lease {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lease{factory: factory, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ensure returns a live session, replacing the held one when it no longer
// answers.
func (l *Lease) Ensure(ctx context.Context) (crawler.Session, error) {
	replacing := false
	if l.current != nil {
		if l.current.IsAlive(ctx) {
			return l.current, nil
		}
		l.logger.Warn("session died, requesting replacement", zap.String("session", l.current.ID()))
		l.current.Close()
		l.current = nil
		replacing = true
	}
	sess, err := l.factory.Create(ctx)
	if err != nil {
		l.notify(LeaseEvent{Kind: LeaseFailed, Err: err})
		return nil, err
	}
	l.current = sess
	kind := LeaseCreated
	if replacing {
		kind = LeaseReplaced
	}
	l.notify(LeaseEvent{Kind: kind, SessionID: sess.ID()})
	return sess, nil
}

// Current returns the held session, which may be nil.
func (l *Lease) Current() crawler.Session {
	return l.current
}

// Release closes the held session. It is safe to call more than once.
func (l *Lease) Release() {
	if l.current == nil {
		return
	}
	l.current.Close()
	l.current = nil
}

func (l *Lease) notify(evt LeaseEvent) {
	if l.observer != nil {
		l.observer(evt)
	}
}
