package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// Action is the metatransaction verb sent by the client.
type Action string

const (
	ActionBuyPack            Action = "BUY_PACK"
	ActionUnboxPack          Action = "UNBOX_PACK"
	ActionCreateListing      Action = "CREATE_LISTING"
	ActionTransferPiece      Action = "TRANSFER_PIECE"
	ActionFulfillListing     Action = "FULFILL_LISTING"
	ActionDeleteListings     Action = "DELETE_LISTINGS"
	ActionClaimPrize         Action = "CLAIM_PRIZE"
	ActionTradeExpiredPieces Action = "TRADE_EXPIRED_PIECES"
)

// Request is the body of a metatransaction.
type Request struct {
	Game       string          `json:"game"`
	Action     Action          `json:"action"`
	Params     json.RawMessage `json:"params"`
	EthAddress string          `json:"ethAddress"`
	Signature  string          `json:"signature"`
}

// BuyPackParams buys a free pack of the given tier.
type BuyPackParams struct {
	PuzzleGroupID string `json:"puzzleGroupId"`
	Tier          int    `json:"tier"`
}

// UnboxPackParams reveals a purchased pack.
type UnboxPackParams struct {
	RequestID string `json:"requestId"`
}

// CreateListingParams offers pieces in exchange for one wanted CID.
type CreateListingParams struct {
	SellerTokenIDs []string `json:"sellerTokenIds"`
	Wants          string   `json:"wants"`
}

// FulfillListingParams swaps the caller's piece for a listed one.
type FulfillListingParams struct {
	SellerTokenID string `json:"sellerTokenId"`
	BuyerTokenID  string `json:"buyerTokenId"`
	Seller        string `json:"seller"`
}

// DeleteListingsParams withdraws wants from the caller's listings, either as
// explicit batches or as UI selections keyed "seller-sellerTokenId-wantsIndex".
type DeleteListingsParams struct {
	TokenIDs   [][]string      `json:"tokenIds,omitempty"`
	Wanted     []string        `json:"wanted,omitempty"`
	Selections map[string]bool `json:"selections,omitempty"`
}

// ClaimPrizeParams claims the prize of a completed puzzle.
type ClaimPrizeParams struct {
	PuzzleID string `json:"puzzleId"`
}

// TradeInParams trades expired pieces for a new pack.
type TradeInParams struct {
	PieceIDs      []string `json:"pieceIds"`
	PackTier      int      `json:"packTier"`
	PuzzleGroupID string   `json:"puzzleGroupId"`
}

// TransferPieceParams gifts a piece to another address.
type TransferPieceParams struct {
	To      string `json:"to"`
	TokenID string `json:"tokenId"`
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("missing params: %w", domain.ErrInvalidParams)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode params: %v: %w", err, domain.ErrInvalidParams)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, domain.ErrInvalidParams)...)
}

func precondition(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, domain.ErrPreconditionFailed)...)
}

func parseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, invalid("%s: %q is not an address", field, s)
	}
	return common.HexToAddress(s), nil
}

// chainIDs strips the "groupId-" prefix from store token ids.
func chainIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = domain.ChainTokenID(id)
	}
	return out
}
