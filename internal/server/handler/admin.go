package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/pipeline"
)

// PollerControl exposes the transfer poller to operators.
type PollerControl interface {
	Cursor(ctx context.Context) (domain.Timestamp, error)
	ResetCursor(ctx context.Context, ts domain.Timestamp) error
	Run(ctx context.Context) (pipeline.PollResult, error)
}

// DispatchLog reads the stream of relayed transactions.
type DispatchLog interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// AdminHandler serves the operator endpoints. Routes are guarded by the
// admin API key.
type AdminHandler struct {
	poller     PollerControl
	dispatches DispatchLog
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler. A nil poller makes every route
// answer 404.
func NewAdminHandler(poller PollerControl, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{poller: poller, logger: logHandler(logger, "admin")}
}

// WithDispatchLog enables GET /api/admin/dispatches.
func (h *AdminHandler) WithDispatchLog(log DispatchLog) *AdminHandler {
	h.dispatches = log
	return h
}

func (h *AdminHandler) available(w http.ResponseWriter) bool {
	if h.poller == nil {
		writeError(w, http.StatusNotFound, "transfer poller is not running in this mode")
		return false
	}
	return true
}

// GetCursor returns the persisted poller cursor.
// GET /api/admin/cursor
func (h *AdminHandler) GetCursor(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	ts, err := h.poller.Cursor(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "Error loading cursor", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cursor": ts, "block": ts.Block()})
}

type resetCursorRequest struct {
	Cursor string `json:"cursor"`
}

// ResetCursor overwrites the poller cursor; an empty cursor rewinds to the
// beginning.
// PUT /api/admin/cursor
func (h *AdminHandler) ResetCursor(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req resetCursorRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts, err := domain.ParseTimestamp(req.Cursor, domain.MinTimestamp)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.poller.ResetCursor(r.Context(), ts); err != nil {
		writeServiceError(w, r, h.logger, "Error resetting cursor", err)
		return
	}
	h.logger.InfoContext(r.Context(), "poller cursor reset", slog.String("cursor", string(ts)))
	writeJSON(w, http.StatusOK, map[string]any{"cursor": ts, "block": ts.Block()})
}

// TriggerPoll runs one poll synchronously and returns its result.
// POST /api/admin/poller/trigger
func (h *AdminHandler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	h.logger.InfoContext(ctx, "poller trigger requested")
	res, err := h.poller.Run(ctx)
	if err != nil {
		writeServiceError(w, r, h.logger, "Error running poller", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

const maxDispatchPage = 500

var streamIDPattern = regexp.MustCompile(`^\d+(-\d+)?$`)

type dispatchEntry struct {
	ID       string          `json:"id"`
	Dispatch json.RawMessage `json:"dispatch"`
}

// ListDispatches pages through the relayed transaction stream, oldest first.
// GET /api/admin/dispatches?after=<id>&count=<n>
func (h *AdminHandler) ListDispatches(w http.ResponseWriter, r *http.Request) {
	if h.dispatches == nil {
		writeError(w, http.StatusNotFound, "dispatch log is not available")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	if !streamIDPattern.MatchString(after) {
		writeError(w, http.StatusBadRequest, "after must be a stream id")
		return
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxDispatchPage {
			writeError(w, http.StatusBadRequest, "count must be 1-"+strconv.Itoa(maxDispatchPage))
			return
		}
		count = n
	}

	msgs, err := h.dispatches.StreamRead(r.Context(), domain.StreamDispatches, after, count)
	if err != nil {
		writeServiceError(w, r, h.logger, "Error reading dispatches", err)
		return
	}
	entries := make([]dispatchEntry, 0, len(msgs))
	next := after
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		entries = append(entries, dispatchEntry{ID: m.ID, Dispatch: m.Payload})
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatches": entries, "next": next})
}
