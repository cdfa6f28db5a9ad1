// Package marketplace assembles the listing views: it joins subgraph
// listing events with piece metadata and live puzzle state, filters them to
// the active puzzle group and pages through them with timestamp cursors.
package marketplace

import "github.com/alanyoungcy/puzzlr/internal/domain"

// LivePieces indexes the pieces of the currently live puzzles. It is built
// per request from a fresh puzzle fetch.
type LivePieces struct {
	byCID map[string]domain.Puzzle
}

// NewLivePieces indexes the pieces of every live puzzle in puzzles.
func NewLivePieces(puzzles []domain.Puzzle) LivePieces {
	lp := LivePieces{byCID: make(map[string]domain.Puzzle)}
	for _, p := range puzzles {
		if !p.Live() {
			continue
		}
		for _, cid := range p.Pieces {
			if _, seen := lp.byCID[cid]; !seen {
				lp.byCID[cid] = p
			}
		}
	}
	return lp
}

// IsPieceActive reports whether cid belongs to a live puzzle.
func (lp LivePieces) IsPieceActive(cid string) bool {
	_, ok := lp.byCID[cid]
	return ok
}

// PuzzleFor returns the live puzzle cid belongs to.
func (lp LivePieces) PuzzleFor(cid string) (domain.Puzzle, bool) {
	p, ok := lp.byCID[cid]
	return p, ok
}

// CIDs returns every active piece CID.
func (lp LivePieces) CIDs() []string {
	out := make([]string, 0, len(lp.byCID))
	for cid := range lp.byCID {
		out = append(out, cid)
	}
	return out
}

// Len returns the number of active piece CIDs.
func (lp LivePieces) Len() int { return len(lp.byCID) }

// FilterListingToActivePieces trims the wants of an enriched listing to the
// active group and reports whether the listing should be shown. A listing
// survives only if some want remains and its seller piece is itself in the
// active group.
func FilterListingToActivePieces(l domain.Listing, activeGroup int) (domain.Listing, bool) {
	kept := make([]domain.WantEntry, 0, len(l.Wants))
	for _, w := range l.Wants {
		if w.PuzzleGroupID == activeGroup {
			kept = append(kept, w)
		}
	}
	l.Wants = kept
	if len(kept) == 0 || l.SellerPuzzleGroupID != activeGroup {
		return l, false
	}
	return l, true
}

// FilterListings applies FilterListingToActivePieces to every listing,
// preserving order.
func FilterListings(listings []domain.Listing, activeGroup int) []domain.Listing {
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if fl, ok := FilterListingToActivePieces(l, activeGroup); ok {
			out = append(out, fl)
		}
	}
	return out
}
