package marketplace

import "github.com/alanyoungcy/puzzlr/internal/domain"

// puzzleIndex maps piece CIDs to puzzles. When a CID appears in several
// puzzles the later puzzle wins, so replacement puzzles shadow the ones
// they replaced.
type puzzleIndex map[string]domain.Puzzle

func newPuzzleIndex(puzzles []domain.Puzzle) puzzleIndex {
	idx := make(puzzleIndex)
	for _, p := range puzzles {
		for _, cid := range p.Pieces {
			idx[cid] = p
		}
	}
	return idx
}

// ResolveHistory fills in images and puzzle names for fulfilled listings.
// Completed puzzles count, and nothing is dropped: history shows every swap
// the address took part in.
func ResolveHistory(listings []domain.Listing, images map[string]string, puzzles []domain.Puzzle) []domain.Listing {
	idx := newPuzzleIndex(puzzles)
	out := make([]domain.Listing, len(listings))
	for i, l := range listings {
		l.SellerImage = images[l.SellerPiece]
		l.BuyerImage = images[l.BuyerPiece]
		if p, ok := idx[l.SellerPiece]; ok {
			l.SellerPuzzleName = p.Name
			l.SellerPuzzleGroupID = p.GroupID
		}
		if p, ok := idx[l.BuyerPiece]; ok {
			l.BuyerPuzzleName = p.Name
			l.BuyerPuzzleGroupID = p.GroupID
		}
		out[i] = l
	}
	return out
}
