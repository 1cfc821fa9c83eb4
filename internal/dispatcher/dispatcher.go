// Package dispatcher fans input URLs out to a pool of workers, collects their
// records in input order and writes periodic partial checkpoints.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/clock/system"
	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
	"github.com/JakeFAU/video-metadata-crawler/internal/worker"
)

// Mode selects how items reach workers.
type Mode string

// Distribution modes.
const (
	// ModeChunked gives each worker a contiguous slice of the input.
	ModeChunked Mode = "chunked"
	// ModeQueue lets idle workers pull the next item from a shared queue.
	ModeQueue Mode = "queue"
)

// ParseMode validates a textual mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeChunked, ModeQueue:
		return Mode(s), nil
	case "":
		return ModeChunked, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q", s)
	}
}

// errNotProcessed marks a slot no worker reported.
var errNotProcessed = errors.New("item was not processed")

// Checkpointer persists partial and final result documents.
type Checkpointer interface {
	Save(ctx context.Context, records []crawler.Record, path string, partial bool) error
	SaveDocument(ctx context.Context, doc crawler.Document, path string) error
}

// Config tunes the pool.
type Config struct {
	Workers         int
	Mode            Mode
	StaggerDelay    time.Duration
	CheckpointEvery int
	Delay           time.Duration
	// OutputPath is the final document path. Empty disables persistence.
	OutputPath string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Mode == "" {
		c.Mode = ModeChunked
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 10
	}
	return c
}

// Dispatcher coordinates one extraction run.
type Dispatcher struct {
	cfg       Config
	factory   crawler.SessionFactory
	extractor worker.Extractor
	store     Checkpointer
	events    progress.Emitter
	clock     crawler.Clock
	logger    *zap.Logger
}

// New constructs a Dispatcher. store, events and clock may be nil.
func New(
	cfg Config,
	factory crawler.SessionFactory,
	extractor worker.Extractor,
	store Checkpointer,
	events progress.Emitter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Dispatcher{
		cfg:       cfg.withDefaults(),
		factory:   factory,
		extractor: extractor,
		store:     store,
		events:    events,
		clock:     clock,
		logger:    logger.Named("dispatcher"),
	}
}

// Partition splits urls into at most n contiguous chunks whose sizes differ
// by at most one. Earlier chunks take the remainder.
func Partition(urls []string, n int) [][]crawler.Item {
	if len(urls) == 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}
	if n > len(urls) {
		n = len(urls)
	}
	base, rem := len(urls)/n, len(urls)%n
	chunks := make([][]crawler.Item, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		chunk := make([]crawler.Item, 0, size)
		for j := start; j < start+size; j++ {
			chunk = append(chunk, crawler.Item{Index: j, URL: urls[j]})
		}
		chunks = append(chunks, chunk)
		start += size
	}
	return chunks
}

// Run extracts every URL and returns the document in input order. Each input
// position is filled exactly once; positions no worker reported receive an
// errored record. The final document is saved to OutputPath even when ctx is
// canceled mid-run.
func (d *Dispatcher) Run(ctx context.Context, urls []string) (crawler.Document, error) {
	if len(urls) == 0 {
		return crawler.Document{}, crawler.ErrNoInput
	}
	started := d.clock.Now()
	queues := d.queues(urls)
	d.logger.Info("starting extraction",
		zap.Int("urls", len(urls)),
		zap.Int("workers", len(queues)),
		zap.String("mode", string(d.cfg.Mode)),
	)
	d.emit(progress.Event{Stage: progress.StageRunStart, Count: len(urls)})

	col := newCollector(len(urls), d.cfg.CheckpointEvery, d.checkpoint)
	var wg sync.WaitGroup
	for i, q := range queues {
		id := i + 1
		w := worker.New(
			worker.Config{ID: id, Delay: d.cfg.Delay},
			d.factory,
			d.extractor,
			d.events,
			d.clock,
			d.logger,
		)
		if i > 0 {
			// Stagger launches so browsers do not all start together.
			if err := system.Sleep(ctx, d.cfg.StaggerDelay); err != nil {
				d.logger.Debug("stagger interrupted", zap.Int("worker", id), zap.Error(err))
			}
		}
		items := q
		wg.Go(func() { w.Run(ctx, items, col) })
	}
	wg.Wait()

	records := col.records(urls)
	doc := crawler.NewDocument(records, d.clock.Now().UTC())
	d.logger.Info("extraction finished",
		zap.Int("total", doc.TotalVideos),
		zap.Int("successful", doc.SuccessfulExtractions),
		zap.Int("failed", doc.FailedExtractions),
	)

	var saveErr error
	if d.store != nil && d.cfg.OutputPath != "" {
		// Keep the finished work even when the run was interrupted.
		if err := d.store.SaveDocument(context.WithoutCancel(ctx), doc, d.cfg.OutputPath); err != nil {
			saveErr = fmt.Errorf("save results: %w", err)
		}
	}
	d.emit(progress.Event{
		Stage: progress.StageRunDone,
		Count: doc.SuccessfulExtractions,
		Dur:   d.clock.Now().Sub(started),
		Note:  d.cfg.OutputPath,
	})
	return doc, saveErr
}

func (d *Dispatcher) queues(urls []string) []<-chan crawler.Item {
	if d.cfg.Mode == ModeQueue {
		n := d.cfg.Workers
		if n > len(urls) {
			n = len(urls)
		}
		shared := fill(Partition(urls, 1)[0])
		out := make([]<-chan crawler.Item, n)
		for i := range out {
			out[i] = shared
		}
		return out
	}
	chunks := Partition(urls, d.cfg.Workers)
	out := make([]<-chan crawler.Item, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, fill(chunk))
	}
	return out
}

// checkpoint runs with the collector's save lock held.
func (d *Dispatcher) checkpoint(completed int, snapshot []crawler.Record) {
	if d.store == nil || d.cfg.OutputPath == "" {
		return
	}
	if err := d.store.Save(context.Background(), snapshot, d.cfg.OutputPath, true); err != nil {
		d.logger.Warn("checkpoint failed", zap.Int("completed", completed), zap.Error(err))
		return
	}
	d.logger.Info("checkpoint saved", zap.Int("completed", completed), zap.Int("records", len(snapshot)))
	d.emit(progress.Event{Stage: progress.StageCheckpoint, Count: len(snapshot), Note: d.cfg.OutputPath})
}

func (d *Dispatcher) emit(evt progress.Event) {
	if d.events != nil {
		d.events.Emit(evt)
	}
}

// collector is the shared result slot array. Slots are written once each by
// whichever worker owns the index.
type collector struct {
	mu    sync.Mutex
	slots []*crawler.Record

	completed atomic.Int64
	every     int64
	saveMu    sync.Mutex
	save      func(completed int, snapshot []crawler.Record)
}

func newCollector(n, every int, save func(int, []crawler.Record)) *collector {
	return &collector{
		slots: make([]*crawler.Record, n),
		every: int64(every),
		save:  save,
	}
}

// Put implements worker.ResultSink.
func (c *collector) Put(item crawler.Item, rec crawler.Record) {
	c.mu.Lock()
	if item.Index < 0 || item.Index >= len(c.slots) || c.slots[item.Index] != nil {
		c.mu.Unlock()
		return
	}
	c.slots[item.Index] = &rec
	c.mu.Unlock()

	n := c.completed.Add(1)
	if n%c.every != 0 {
		return
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	c.save(int(n), c.snapshot())
}

// snapshot returns completed records in input order, skipping empty slots.
func (c *collector) snapshot() []crawler.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]crawler.Record, 0, len(c.slots))
	for _, rec := range c.slots {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

// records returns one record per input position.
func (c *collector) records(urls []string) []crawler.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]crawler.Record, len(c.slots))
	for i, rec := range c.slots {
		if rec == nil {
			out[i] = crawler.FailedRecord(urls[i], errNotProcessed).Normalize()
			continue
		}
		out[i] = *rec
	}
	return out
}

func fill(items []crawler.Item) <-chan crawler.Item {
	ch := make(chan crawler.Item, len(items))
	for _, it := range items {
		ch <- it
	}
	close(ch)
	return ch
}
