// Package worker implements the per-worker extraction loop. A Worker owns
// exactly one browser session at a time and processes items sequentially.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/clock/system"
	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/extract"
	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
	"github.com/JakeFAU/video-metadata-crawler/internal/session"
)

// Extractor produces a Record for one URL using sessions from src.
type Extractor interface {
	Extract(ctx context.Context, url string, src extract.SessionSource) crawler.Record
}

// ResultSink receives each finished item. Implementations must be safe for
// concurrent use by several workers.
type ResultSink interface {
	Put(item crawler.Item, rec crawler.Record)
}

// ResultSinkFunc adapts a function to ResultSink.
type ResultSinkFunc func(item crawler.Item, rec crawler.Record)

// Put calls f.
func (f ResultSinkFunc) Put(item crawler.Item, rec crawler.Record) {
	f(item, rec)
}

// Config controls Worker behavior.
type Config struct {
	// ID numbers the worker in logs and progress events.
	ID int
	// Delay is waited between consecutive items.
	Delay time.Duration
}

// Worker drains an item channel through one session lease.
type Worker struct {
	cfg       Config
	factory   crawler.SessionFactory
	extractor Extractor
	events    progress.Emitter
	clock     crawler.Clock
	logger    *zap.Logger
}

// New constructs a Worker. events and clock may be nil.
func New(
	cfg Config,
	factory crawler.SessionFactory,
	extractor Extractor,
	events progress.Emitter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Worker{
		cfg:       cfg,
		factory:   factory,
		extractor: extractor,
		events:    events,
		clock:     clock,
		logger:    logger.Named("worker").With(zap.Int("worker", cfg.ID)),
	}
}

// Run processes items until the channel closes. Every received item is
// reported to sink exactly once, even after ctx is canceled or extraction
// panics. The session is released on every exit path.
func (w *Worker) Run(ctx context.Context, items <-chan crawler.Item, sink ResultSink) {
	lease := session.NewLease(w.factory, w.logger, session.WithObserver(w.onLease))
	defer lease.Release()

	first := true
	for item := range items {
		if ctx.Err() != nil {
			w.finish(item, crawler.FailedRecord(item.URL, ctx.Err()), 0, sink)
			continue
		}
		if !first {
			if err := system.Sleep(ctx, w.cfg.Delay); err != nil {
				w.finish(item, crawler.FailedRecord(item.URL, err), 0, sink)
				continue
			}
		}
		first = false

		start := w.clock.Now()
		rec := w.process(ctx, item, lease)
		w.finish(item, rec, w.clock.Now().Sub(start), sink)
	}
	w.logger.Debug("worker finished")
}

func (w *Worker) process(ctx context.Context, item crawler.Item, lease *session.Lease) (rec crawler.Record) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("extraction panicked",
				zap.Int("index", item.Index),
				zap.String("url", item.URL),
				zap.Any("panic", r),
			)
			// The session may be mid-operation; start the next item fresh.
			lease.Release()
			rec = crawler.FailedRecord(item.URL, fmt.Errorf("panic during extraction: %v", r))
		}
	}()
	rec = w.extractor.Extract(ctx, item.URL, lease)
	rec.URL = item.URL
	return rec
}

func (w *Worker) finish(item crawler.Item, rec crawler.Record, dur time.Duration, sink ResultSink) {
	rec = rec.Normalize()
	evt := progress.Event{
		Stage:  progress.StageItemDone,
		Worker: w.cfg.ID,
		Index:  item.Index,
		URL:    item.URL,
		Dur:    dur,
	}
	if rec.Failed() {
		evt.Stage = progress.StageItemError
		evt.Note = *rec.Error
		w.logger.Warn("item failed",
			zap.Int("index", item.Index),
			zap.String("url", item.URL),
			zap.String("error", *rec.Error),
		)
	} else {
		w.logger.Debug("item extracted",
			zap.Int("index", item.Index),
			zap.String("url", item.URL),
			zap.Duration("dur", dur),
		)
	}
	sink.Put(item, rec)
	w.emit(evt)
}

func (w *Worker) onLease(evt session.LeaseEvent) {
	switch evt.Kind {
	case session.LeaseCreated, session.LeaseReplaced:
		w.emit(progress.Event{Stage: progress.StageSessionStart, Worker: w.cfg.ID, Note: string(evt.Kind)})
	case session.LeaseFailed:
		note := "session creation failed"
		if evt.Err != nil {
			note = evt.Err.Error()
		}
		w.emit(progress.Event{Stage: progress.StageSessionError, Worker: w.cfg.ID, Note: note})
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.events != nil {
		w.events.Emit(evt)
	}
}
