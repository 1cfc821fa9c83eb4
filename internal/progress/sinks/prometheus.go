package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
)

// PrometheusSink exports run, item, checkpoint and session metrics.
type PrometheusSink struct {
	runsStarted  *prometheus.CounterVec
	runsRunning  prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	items        *prometheus.CounterVec
	itemDuration *prometheus.HistogramVec
	checkpoints  prometheus.Counter
	sessions     *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metacrawler_runs_started_total",
			Help: "Extraction runs started, by operation.",
		}, []string{"operation"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "metacrawler_runs_running",
			Help: "Runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metacrawler_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"operation"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metacrawler_items_total",
			Help: "Processed items partitioned by result.",
		}, []string{"operation", "result"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metacrawler_item_duration_seconds",
			Help:    "Per-item extraction latency partitioned by result.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"result"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metacrawler_checkpoints_total",
			Help: "Partial checkpoints written.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metacrawler_sessions_total",
			Help: "Browser session acquisitions partitioned by result.",
		}, []string{"result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsRunning,
		s.runDuration,
		s.items,
		s.itemDuration,
		s.checkpoints,
		s.sessions,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	op := evt.Operation
	if op == "" {
		op = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(op).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(op).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageItemDone:
		s.observeItem(op, "success", evt)
	case progress.StageItemError:
		s.observeItem(op, "error", evt)
	case progress.StageCheckpoint:
		s.checkpoints.Inc()
	case progress.StageSessionStart:
		s.sessions.WithLabelValues("created").Inc()
	case progress.StageSessionError:
		s.sessions.WithLabelValues("failed").Inc()
	}
}

func (s *PrometheusSink) observeItem(op, result string, evt progress.Event) {
	s.items.WithLabelValues(op, result).Inc()
	if evt.Dur > 0 {
		s.itemDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
