package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/marketplace"
)

// PageSource assembles one listing page.
type PageSource interface {
	NextPage(ctx context.Context, req marketplace.PageRequest) (domain.Page, error)
}

// ListingsHandler serves the paginated listing views. Each game has its own
// pager; requests without ?game= use the default game.
type ListingsHandler struct {
	pagers      map[string]PageSource
	defaultGame string
	logger      *slog.Logger
}

// NewListingsHandler creates a ListingsHandler.
func NewListingsHandler(pagers map[string]PageSource, defaultGame string, logger *slog.Logger) *ListingsHandler {
	return &ListingsHandler{
		pagers:      pagers,
		defaultGame: defaultGame,
		logger:      logHandler(logger, "listings"),
	}
}

func (h *ListingsHandler) pager(r *http.Request) (PageSource, error) {
	game := r.URL.Query().Get("game")
	if game == "" {
		game = h.defaultGame
	}
	p, ok := h.pagers[game]
	if !ok {
		return nil, fmt.Errorf("game %q: %w", game, domain.ErrInvalidGame)
	}
	return p, nil
}

func (h *ListingsHandler) page(w http.ResponseWriter, r *http.Request, view marketplace.View, address, what string) (domain.Page, bool) {
	p, err := h.pager(r)
	if err != nil {
		writeServiceError(w, r, h.logger, what, err)
		return domain.Page{}, false
	}
	page, err := p.NextPage(r.Context(), marketplace.PageRequest{
		View:    view,
		Cursor:  r.URL.Query().Get("timestamp"),
		Address: address,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, what, err)
		return domain.Page{}, false
	}
	return page, true
}

// ListAll returns the page of active listings after ?timestamp=.
// GET /api/listings
func (h *ListingsHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	if page, ok := h.page(w, r, marketplace.ViewAll, "", "Error getting all the listings"); ok {
		writeJSON(w, http.StatusOK, page)
	}
}

// MyListings returns the caller's active listings.
// GET /api/{address}/mylistings
func (h *ListingsHandler) MyListings(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if page, ok := h.page(w, r, marketplace.ViewMine, addr, "Error getting listings for "+addr); ok {
		writeJSON(w, http.StatusOK, page)
	}
}

type boughtPage struct {
	Listings []domain.Listing `json:"boughtListings"`
	Cursor   domain.Timestamp `json:"cursor"`
	HasMore  bool             `json:"hasMore"`
}

type soldPage struct {
	Listings []domain.Listing `json:"soldListings"`
	Cursor   domain.Timestamp `json:"cursor"`
	HasMore  bool             `json:"hasMore"`
}

// SwapHistory returns fulfilled swaps newest first.
// GET /api/{address}/swapHistory?type=BOUGHT|SOLD
func (h *ListingsHandler) SwapHistory(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var view marketplace.View
	switch strings.ToUpper(r.URL.Query().Get("type")) {
	case "BOUGHT":
		view = marketplace.ViewBought
	case "SOLD":
		view = marketplace.ViewSold
	default:
		writeError(w, http.StatusBadRequest, "Type must be provided")
		return
	}

	page, ok := h.page(w, r, view, addr, "Error fetching swap history for "+addr)
	if !ok {
		return
	}
	if view == marketplace.ViewBought {
		writeJSON(w, http.StatusOK, boughtPage{page.Listings, page.Cursor, page.HasMore})
		return
	}
	writeJSON(w, http.StatusOK, soldPage{page.Listings, page.Cursor, page.HasMore})
}
