package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
	"github.com/JakeFAU/video-metadata-crawler/internal/progress/sinks"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// StatusBoard is the read side of the status sink.
type StatusBoard interface {
	Get(runID [16]byte) (sinks.RunStatus, bool)
	List() []sinks.RunStatus
}

// ProgressHandler exposes read-only run progress endpoints.
type ProgressHandler struct {
	board  StatusBoard
	logger *zap.Logger
}

// NewProgressHandler wires the status board and logger.
func NewProgressHandler(board StatusBoard, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{board: board, logger: logger}
}

// ListRuns handles GET /v1/progress?state=&limit=&offset=. It returns
// {"runs": [...]} newest first, 400 for invalid filters, or 503 when no
// status board is attached.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.board == nil {
		writeError(w, http.StatusServiceUnavailable, "progress board unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	keep, err := parseState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs := make([]sinks.RunStatus, 0)
	for _, st := range h.board.List() {
		if keep(st) {
			runs = append(runs, st)
		}
	}
	if offset >= len(runs) {
		runs = runs[:0]
	} else {
		runs = runs[offset:]
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /v1/progress/{run_id}. It returns {"run": {...}},
// 400 for malformed IDs, or 404 for unknown runs.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.board == nil {
		writeError(w, http.StatusServiceUnavailable, "progress board unavailable")
		return
	}
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	runID, err := progress.ParseRunID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	st, ok := h.board.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": st})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseState(input string) (func(sinks.RunStatus) bool, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "all":
		return func(sinks.RunStatus) bool { return true }, nil
	case "running":
		return func(st sinks.RunStatus) bool { return st.Running() }, nil
	case "done", "finished":
		return func(st sinks.RunStatus) bool { return !st.Running() }, nil
	default:
		return nil, errors.New("invalid state")
	}
}
