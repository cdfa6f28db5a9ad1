package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/puzzlr/internal/dispatch"
)

// Dispatcher relays a signed user intent as one contract write.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (string, error)
}

// MetaTxHandler accepts metatransactions.
type MetaTxHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewMetaTxHandler creates a MetaTxHandler.
func NewMetaTxHandler(d Dispatcher, logger *slog.Logger) *MetaTxHandler {
	return &MetaTxHandler{dispatcher: d, logger: logHandler(logger, "metatxns")}
}

// Submit verifies and relays the request, answering with the pending
// transaction hash.
// POST /api/metatxns
func (h *MetaTxHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing request body")
		return
	}

	hash, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		h.logger.InfoContext(r.Context(), "metatransaction rejected",
			slog.String("game", req.Game),
			slog.String("action", string(req.Action)),
			slog.String("caller", req.EthAddress),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, r, h.logger, "Error sending metatransaction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"txnHash": hash})
}
