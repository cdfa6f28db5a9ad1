package domain

import (
	"encoding/json"
	"strings"
)

// ListingType tags the lifecycle state of a listing event.
type ListingType string

const (
	ListingCreated ListingType = "LISTING_CREATED"
	ListingSwapped ListingType = "LISTING_SWAPPED"
	ListingDeleted ListingType = "LISTING_DELETED"
)

// ListingsLimit is the page size used by every listing view.
const ListingsLimit = 10

// WantEntry is one piece a seller accepts in exchange for the offered piece.
// Raw subgraph events only carry the CID; enrichment fills the rest in place.
type WantEntry struct {
	CID           string `json:"cid"`
	Image         string `json:"image,omitempty"`
	PuzzleName    string `json:"puzzleName,omitempty"`
	PuzzleGroupID int    `json:"puzzleGroupId,omitempty"`
	// Resolved is set when the CID has a metadata row and belongs to a
	// puzzle in the lookup set.
	Resolved bool `json:"-"`
}

// Listing is an offer to trade one owned piece for any of several wanted
// pieces. The ID is the seller address and seller token id joined by "-".
type Listing struct {
	ID            string
	Seller        string
	SellerTokenID string
	SellerPiece   string
	Wants         []WantEntry
	Buyer         string
	BuyerTokenID  string
	BuyerPiece    string
	Type          ListingType
	Timestamp     Timestamp

	SellerImage         string
	SellerPuzzleName    string
	SellerPuzzleGroupID int
	BuyerImage          string
	BuyerPuzzleName     string
	BuyerPuzzleGroupID  int
}

// ListingID builds the composite listing identifier.
func ListingID(seller, sellerTokenID string) string {
	return strings.ToLower(seller) + "-" + sellerTokenID
}

// WantCIDs returns the wanted CIDs in order.
func (l Listing) WantCIDs() []string {
	out := make([]string, len(l.Wants))
	for i, w := range l.Wants {
		out[i] = w.CID
	}
	return out
}

// listingJSON is the wire shape consumed by the marketplace UI. The parallel
// want arrays are derived from Wants on every marshal so they cannot drift.
type listingJSON struct {
	ID                        string      `json:"id"`
	Seller                    string      `json:"seller"`
	SellerTokenID             string      `json:"sellerTokenId"`
	SellerPiece               string      `json:"sellerPiece"`
	SellerTokenIDImage        string      `json:"sellerTokenIdImage,omitempty"`
	SellerTokenPuzzleName     string      `json:"sellerTokenPuzzleName,omitempty"`
	SellerTokenPuzzleGroupID  int         `json:"sellerTokenPuzzleGroupId,omitempty"`
	Wants                     []WantEntry `json:"wants"`
	WantsPieces               []string    `json:"wantsPieces"`
	WantsPiecesImages         []string    `json:"wantsPiecesImages"`
	WantsPiecesPuzzleNames    []string    `json:"wantsPiecesPuzzleNames"`
	WantsPiecesPuzzleGroupIDs []int       `json:"wantsPiecesPuzzleGroupIds"`
	Buyer                     string      `json:"buyer,omitempty"`
	BuyerTokenID              string      `json:"buyerTokenId,omitempty"`
	BuyerPiece                string      `json:"buyerPiece,omitempty"`
	BuyerPieceImage           string      `json:"buyerPieceImage,omitempty"`
	BuyerPiecePuzzleName      string      `json:"buyerPiecePuzzleName,omitempty"`
	BuyerPiecePuzzleGroupID   int         `json:"buyerPiecePuzzleGroupId,omitempty"`
	Type                      ListingType `json:"type"`
	Timestamp                 Timestamp   `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (l Listing) MarshalJSON() ([]byte, error) {
	out := listingJSON{
		ID:                        l.ID,
		Seller:                    l.Seller,
		SellerTokenID:             l.SellerTokenID,
		SellerPiece:               l.SellerPiece,
		SellerTokenIDImage:        l.SellerImage,
		SellerTokenPuzzleName:     l.SellerPuzzleName,
		SellerTokenPuzzleGroupID:  l.SellerPuzzleGroupID,
		Wants:                     l.Wants,
		WantsPieces:               make([]string, len(l.Wants)),
		WantsPiecesImages:         make([]string, len(l.Wants)),
		WantsPiecesPuzzleNames:    make([]string, len(l.Wants)),
		WantsPiecesPuzzleGroupIDs: make([]int, len(l.Wants)),
		Buyer:                     l.Buyer,
		BuyerTokenID:              l.BuyerTokenID,
		BuyerPiece:                l.BuyerPiece,
		BuyerPieceImage:           l.BuyerImage,
		BuyerPiecePuzzleName:      l.BuyerPuzzleName,
		BuyerPiecePuzzleGroupID:   l.BuyerPuzzleGroupID,
		Type:                      l.Type,
		Timestamp:                 l.Timestamp,
	}
	if out.Wants == nil {
		out.Wants = []WantEntry{}
	}
	for i, w := range l.Wants {
		out.WantsPieces[i] = w.CID
		out.WantsPiecesImages[i] = w.Image
		out.WantsPiecesPuzzleNames[i] = w.PuzzleName
		out.WantsPiecesPuzzleGroupIDs[i] = w.PuzzleGroupID
	}
	return json.Marshal(out)
}

// Page is one step of a paginated listing view.
type Page struct {
	Listings []Listing `json:"listings"`
	Cursor   Timestamp `json:"cursor"`
	HasMore  bool      `json:"hasMore"`
	// Raw is the number of events fetched before filtering.
	Raw int `json:"-"`
}
