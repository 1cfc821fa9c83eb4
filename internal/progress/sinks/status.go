package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
)

// RunStatus is the live view of one run.
type RunStatus struct {
	RunID          string     `json:"run_id"`
	Operation      string     `json:"operation"`
	Total          int        `json:"total"`
	Completed      int        `json:"completed"`
	Successful     int        `json:"successful"`
	Failed         int        `json:"failed"`
	Checkpoints    int        `json:"checkpoints"`
	SessionsOpened int        `json:"sessions_opened"`
	SessionErrors  int        `json:"session_errors"`
	LastError      string     `json:"last_error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Running reports whether the run has not finished yet.
func (r RunStatus) Running() bool {
	return r.FinishedAt == nil
}

// StatusSink folds events into per-run status records for the HTTP API.
type StatusSink struct {
	mu   sync.RWMutex
	runs map[[16]byte]*RunStatus
}

// NewStatusSink creates an empty status board.
func NewStatusSink() *StatusSink {
	return &StatusSink{runs: make(map[[16]byte]*RunStatus)}
}

// Consume applies the batch to the board.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		st := s.runs[evt.RunID]
		if st == nil {
			st = &RunStatus{
				RunID:     evt.RunUUID().String(),
				Operation: evt.Operation,
				StartedAt: evt.TS,
			}
			s.runs[evt.RunID] = st
		}
		if evt.TS.After(st.UpdatedAt) {
			st.UpdatedAt = evt.TS
		}
		switch evt.Stage {
		case progress.StageRunStart:
			st.Total = evt.Count
			st.StartedAt = evt.TS
		case progress.StageRunDone:
			ts := evt.TS
			st.FinishedAt = &ts
		case progress.StageItemDone:
			st.Completed++
			st.Successful++
		case progress.StageItemError:
			st.Completed++
			st.Failed++
			st.LastError = evt.Note
		case progress.StageCheckpoint:
			st.Checkpoints++
		case progress.StageSessionStart:
			st.SessionsOpened++
		case progress.StageSessionError:
			st.SessionErrors++
			st.LastError = evt.Note
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}

// Get returns a copy of the status for runID.
func (s *StatusSink) Get(runID [16]byte) (RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[runID]
	if !ok {
		return RunStatus{}, false
	}
	return *st, true
}

// List returns every known run, newest first.
func (s *StatusSink) List() []RunStatus {
	s.mu.RLock()
	out := make([]RunStatus, 0, len(s.runs))
	for _, st := range s.runs {
		out = append(out, *st)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
