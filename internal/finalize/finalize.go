// Package finalize retries the failed records of a saved result document on a
// single browser session, one URL at a time.
package finalize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/clock/system"
	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
	"github.com/JakeFAU/video-metadata-crawler/internal/worker"
)

// Store loads and saves result documents.
type Store interface {
	Load(path string) (crawler.Document, error)
	SaveDocument(ctx context.Context, doc crawler.Document, path string) error
}

// Stats summarizes a finalize pass.
type Stats struct {
	Retried     int `json:"retried"`
	Successful  int `json:"successful"`
	StillFailed int `json:"still_failed"`
}

// Config tunes the retry pass.
type Config struct {
	// Delay is waited between retried URLs.
	Delay time.Duration
}

// Finalizer runs the retry pass.
type Finalizer struct {
	cfg       Config
	factory   crawler.SessionFactory
	extractor worker.Extractor
	store     Store
	events    progress.Emitter
	clock     crawler.Clock
	logger    *zap.Logger
}

// New constructs a Finalizer. events and clock may be nil.
func New(
	cfg Config,
	factory crawler.SessionFactory,
	extractor worker.Extractor,
	store Store,
	events progress.Emitter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Finalizer{
		cfg:       cfg,
		factory:   factory,
		extractor: extractor,
		store:     store,
		events:    events,
		clock:     clock,
		logger:    logger.Named("finalize"),
	}
}

// Finalize re-extracts every errored record in the document at path and
// saves the document back in place. Only a load or save failure is returned
// as an error; individual URLs that fail again stay errored.
func (f *Finalizer) Finalize(ctx context.Context, path string) (Stats, error) {
	doc, err := f.store.Load(path)
	if err != nil {
		return Stats{}, fmt.Errorf("load %s: %w", path, err)
	}
	items := failedItems(doc)
	if len(items) == 0 {
		f.logger.Info("no failed records to retry", zap.String("path", path))
		return Stats{}, nil
	}

	started := f.clock.Now()
	f.logger.Info("retrying failed records", zap.String("path", path), zap.Int("count", len(items)))
	f.emit(progress.Event{Stage: progress.StageRunStart, Count: len(items)})

	results := &resultSet{byURL: make(map[string]crawler.Record, len(items))}
	ch := make(chan crawler.Item, len(items))
	for _, it := range items {
		ch <- it
	}
	close(ch)
	// One worker gives one session and strictly sequential processing.
	worker.New(worker.Config{ID: 1, Delay: f.cfg.Delay}, f.factory, f.extractor, f.events, f.clock, f.logger).
		Run(ctx, ch, results)

	stats := Stats{Retried: len(items)}
	for _, rec := range results.byURL {
		if rec.Failed() {
			stats.StillFailed++
		} else {
			stats.Successful++
		}
	}
	// Items the worker never reported keep their previous error.
	stats.StillFailed += len(items) - len(results.byURL)

	doc = apply(doc, results.ordered(items))
	now := f.clock.Now().UTC()
	doc.FinalizedAt = &now
	if err := f.store.SaveDocument(context.WithoutCancel(ctx), doc, path); err != nil {
		return stats, fmt.Errorf("save %s: %w", path, err)
	}

	f.logger.Info("finalize complete",
		zap.Int("retried", stats.Retried),
		zap.Int("successful", stats.Successful),
		zap.Int("still_failed", stats.StillFailed),
	)
	f.emit(progress.Event{Stage: progress.StageRunDone, Count: stats.Successful, Dur: f.clock.Now().Sub(started), Note: path})
	return stats, nil
}

// failedItems lists errored records by their first position, one per URL.
func failedItems(doc crawler.Document) []crawler.Item {
	seen := make(map[string]bool)
	var items []crawler.Item
	for i, rec := range doc.Videos {
		if !rec.Failed() || rec.URL == "" || seen[rec.URL] {
			continue
		}
		seen[rec.URL] = true
		items = append(items, crawler.Item{Index: i, URL: rec.URL})
	}
	return items
}

// apply replaces each record at its URL's first position and appends records
// whose URL the document does not contain. Counters are recomputed.
func apply(doc crawler.Document, recs []crawler.Record) crawler.Document {
	positions := make(map[string]int, len(doc.Videos))
	for i, rec := range doc.Videos {
		if _, ok := positions[rec.URL]; !ok {
			positions[rec.URL] = i
		}
	}
	videos := make([]crawler.Record, len(doc.Videos), len(doc.Videos)+len(recs))
	copy(videos, doc.Videos)
	for _, rec := range recs {
		if i, ok := positions[rec.URL]; ok {
			videos[i] = rec
			continue
		}
		positions[rec.URL] = len(videos)
		videos = append(videos, rec)
	}
	doc.Videos = videos
	doc.Recount()
	return doc
}

func (f *Finalizer) emit(evt progress.Event) {
	if f.events != nil {
		f.events.Emit(evt)
	}
}

type resultSet struct {
	mu    sync.Mutex
	byURL map[string]crawler.Record
}

// Put implements worker.ResultSink.
func (r *resultSet) Put(item crawler.Item, rec crawler.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.URL = item.URL
	r.byURL[item.URL] = rec
}

func (r *resultSet) ordered(items []crawler.Item) []crawler.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]crawler.Record, 0, len(items))
	for _, it := range items {
		if rec, ok := r.byURL[it.URL]; ok {
			out = append(out, rec)
		}
	}
	return out
}
