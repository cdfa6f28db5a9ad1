package subgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// rawListing mirrors the subgraph Listing entity.
type rawListing struct {
	ID            string   `json:"id"`
	Seller        string   `json:"seller"`
	SellerTokenID string   `json:"sellerTokenId"`
	SellerPiece   string   `json:"sellerPiece"`
	WantsPieces   []string `json:"wantsPieces"`
	Buyer         *string  `json:"buyer"`
	BuyerTokenID  *string  `json:"buyerTokenId"`
	BuyerPiece    *string  `json:"buyerPiece"`
	Type          string   `json:"type"`
	Timestamp     string   `json:"timestamp"`
}

func (r rawListing) toDomain() domain.Listing {
	wants := make([]domain.WantEntry, len(r.WantsPieces))
	for i, cid := range r.WantsPieces {
		wants[i] = domain.WantEntry{CID: cid}
	}
	return domain.Listing{
		ID:            r.ID,
		Seller:        r.Seller,
		SellerTokenID: r.SellerTokenID,
		SellerPiece:   r.SellerPiece,
		Wants:         wants,
		Buyer:         deref(r.Buyer),
		BuyerTokenID:  deref(r.BuyerTokenID),
		BuyerPiece:    deref(r.BuyerPiece),
		Type:          domain.ListingType(r.Type),
		Timestamp:     domain.Timestamp(r.Timestamp),
	}
}

// FetchListings returns the listing events selected by filter, in the order
// requested by the filter.
func (c *Client) FetchListings(ctx context.Context, filter ListingFilter) ([]domain.Listing, error) {
	q, err := filter.Build()
	if err != nil {
		return nil, err
	}

	respData, err := c.doQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch listings: %w", err)
	}

	var result struct {
		Listings []rawListing `json:"listings"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode listings: %w", err)
	}

	out := make([]domain.Listing, 0, len(result.Listings))
	for _, r := range result.Listings {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// FetchListingsByID loads listings by their composite ids. Missing ids are
// simply absent from the result.
func (c *Client) FetchListingsByID(ctx context.Context, ids []string) (map[string]domain.Listing, error) {
	if len(ids) == 0 {
		return map[string]domain.Listing{}, nil
	}
	listings, err := c.FetchListings(ctx, ListingFilter{IDIn: ids, First: len(ids)})
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Listing, len(listings))
	for _, l := range listings {
		out[l.ID] = l
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
