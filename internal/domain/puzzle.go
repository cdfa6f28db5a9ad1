package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Puzzle is a collectible unit composed of piece CIDs. A puzzle is live while
// it has started and not yet completed.
type Puzzle struct {
	ID               int      `json:"id"`
	GroupID          int      `json:"group_id"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	Artwork          string   `json:"artwork,omitempty"`
	GridSize         int      `json:"grid_size,omitempty"`
	Pieces           []string `json:"pieces"`
	PiecesImageURLs  []string `json:"pieces_image_urls,omitempty"`
	Prizes           []string `json:"prizes"`
	PrizesImageURLs  []string `json:"prizes_image_urls,omitempty"`
	MaxWinners       int      `json:"max_winners"`
	RemainingWinners int      `json:"remaining_winners"`
	Started          bool     `json:"started"`
	Completed        bool     `json:"completed"`
}

// Live reports whether the puzzle is currently in play.
func (p Puzzle) Live() bool { return p.Started && !p.Completed }

// HasPiece reports whether cid is one of the puzzle's pieces.
func (p Puzzle) HasPiece(cid string) bool {
	for _, c := range p.Pieces {
		if c == cid {
			return true
		}
	}
	return false
}

// Metadata is the display metadata stored for a piece or prize CID.
type Metadata struct {
	CID         string          `json:"cid"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`
}

// Token is an owned piece as mirrored into the metadata store. TokenID has
// the form "groupId-tokenId".
type Token struct {
	TokenID   string    `json:"token_id"`
	Owner     string    `json:"owner"`
	CID       string    `json:"cid"`
	Timestamp string    `json:"timestamp"`
	Type      string    `json:"type"`
	Metadata  *Metadata `json:"token_metadata,omitempty"`
}

// StoreTokenID builds the metadata store key for a chain token id.
func StoreTokenID(groupID int, chainTokenID string) string {
	return strconv.Itoa(groupID) + "-" + chainTokenID
}

// ChainTokenID strips the group prefix from a store token id. Ids without a
// prefix are returned unchanged.
func ChainTokenID(id string) string {
	if i := strings.LastIndex(id, "-"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Piece is a token joined with the live puzzle its CID belongs to.
type Piece struct {
	Token
	PuzzleID      int    `json:"puzzle_id"`
	PuzzleName    string `json:"puzzle_name"`
	PuzzleGroupID int    `json:"puzzle_group_id"`
}

// TransferTypePiece tags piece transfer events in the subgraph.
const TransferTypePiece = "PIECE_TRANSFER"

// TransfersLimit is the poller batch size.
const TransfersLimit = 100

// Transfer is a piece transfer event indexed by the subgraph.
type Transfer struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	TokenID   string    `json:"tokenId"`
	Type      string    `json:"type"`
	Timestamp Timestamp `json:"timestamp"`
}

// Pack is a completed pack purchase.
type Pack struct {
	ID            string   `json:"id"`
	RequestID     string   `json:"requestId"`
	Owner         string   `json:"owner"`
	PuzzleGroupID string   `json:"puzzleGroupId"`
	TokenIDs      []string `json:"tokenIds,omitempty"`
	Type          string   `json:"type"`
	Tier          int      `json:"tier"`
}

// Prize is a prize won by completing a puzzle.
type Prize struct {
	ID      string `json:"id"`
	Claimed bool   `json:"claimed"`
	Winner  string `json:"winner"`
	TokenID string `json:"tokenId"`
	Prize   string `json:"prize"`
}

// Winning is a prize enriched with its puzzle and image for display.
type Winning struct {
	Claimed       bool   `json:"claimed"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	PuzzleID      int    `json:"puzzleId,omitempty"`
	PuzzleGroupID int    `json:"puzzleGroupId,omitempty"`
	Prize         string `json:"prize"`
	PrizeImageURL string `json:"prize_image_url,omitempty"`
	TokenID       string `json:"tokenId,omitempty"`
}

// Bouncer is a relayer hot wallet. PrivateKey is stored encrypted.
type Bouncer struct {
	ID         int    `json:"id"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
	Active     bool   `json:"active"`
}

// PuzzleStatus is the remaining-winners view of a live puzzle.
type PuzzleStatus struct {
	ID               int `json:"id"`
	RemainingWinners int `json:"remaining_winners"`
}
