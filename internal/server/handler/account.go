package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// AccountService serves the wallet-scoped and puzzle read models.
type AccountService interface {
	LivePieces(ctx context.Context, owner string) ([]domain.Piece, error)
	LivePuzzles(ctx context.Context) ([]domain.Puzzle, error)
	CompletedPuzzles(ctx context.Context, groupID int) ([]domain.Puzzle, error)
	Packs(ctx context.Context, owner string) ([]domain.Pack, error)
	Winnings(ctx context.Context, winner string) ([]domain.Winning, error)
}

// AccountHandler serves pieces, packs, winnings and live puzzles.
type AccountHandler struct {
	svc    AccountService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(svc AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logHandler(logger, "account")}
}

// ownerList runs fetch for the {address} path parameter and writes the
// result as a JSON array.
func ownerList[T any](h *AccountHandler, w http.ResponseWriter, r *http.Request, what string, fetch func(context.Context, string) ([]T, error)) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := fetch(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, what+" for "+addr, err)
		return
	}
	if out == nil {
		out = []T{}
	}
	writeJSON(w, http.StatusOK, out)
}

// LivePieces lists the owner's pieces that belong to live puzzles.
// GET /api/{address}/livepieces
func (h *AccountHandler) LivePieces(w http.ResponseWriter, r *http.Request) {
	ownerList(h, w, r, "Error fetching live pieces", h.svc.LivePieces)
}

// Packs lists the owner's completed pack purchases.
// GET /api/{address}/packs
func (h *AccountHandler) Packs(w http.ResponseWriter, r *http.Request) {
	ownerList(h, w, r, "Error fetching packs", h.svc.Packs)
}

// Winnings lists prizes the owner has won.
// GET /api/{address}/winnings
func (h *AccountHandler) Winnings(w http.ResponseWriter, r *http.Request) {
	ownerList(h, w, r, "Error fetching winnings", h.svc.Winnings)
}

// LivePuzzles lists live puzzles with their piece and prize images.
// GET /api/puzzles/live
func (h *AccountHandler) LivePuzzles(w http.ResponseWriter, r *http.Request) {
	puzzles, err := h.svc.LivePuzzles(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "Error fetching live puzzles", err)
		return
	}
	if puzzles == nil {
		puzzles = []domain.Puzzle{}
	}
	writeJSON(w, http.StatusOK, puzzles)
}

// CompletedPuzzles lists the puzzles of a group that have been won.
// GET /api/puzzles/completed/{group}
func (h *AccountHandler) CompletedPuzzles(w http.ResponseWriter, r *http.Request) {
	group, err := strconv.Atoi(r.PathValue("group"))
	if err != nil || group <= 0 {
		writeError(w, http.StatusBadRequest, "group must be a positive integer")
		return
	}
	puzzles, err := h.svc.CompletedPuzzles(r.Context(), group)
	if err != nil {
		writeServiceError(w, r, h.logger, "Error fetching completed puzzles", err)
		return
	}
	if puzzles == nil {
		puzzles = []domain.Puzzle{}
	}
	writeJSON(w, http.StatusOK, puzzles)
}
