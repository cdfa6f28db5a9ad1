package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

const (
	packPurchaseCompleted = "PACK_PURCHASE_COMPLETED"
	rewardsPageSize       = 1000
)

// FetchCompletedPacks returns the completed pack purchases owned by owner.
func (c *Client) FetchCompletedPacks(ctx context.Context, owner string) ([]domain.Pack, error) {
	addr, err := normalizeAddress(owner)
	if err != nil {
		return nil, err
	}

	q := Query{
		Document: `
		query Packs($owner: Bytes!, $first: Int!) {
			packs(first: $first, where: { type: ` + packPurchaseCompleted + `, owner: $owner }) {
				id
				requestId
				owner
				puzzleGroupId
				tokenIds
				type
				tier
			}
		}`,
		Variables: map[string]any{"owner": addr, "first": rewardsPageSize},
	}

	respData, err := c.doQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch packs: %w", err)
	}

	var result struct {
		Packs []struct {
			ID            string          `json:"id"`
			RequestID     string          `json:"requestId"`
			Owner         string          `json:"owner"`
			PuzzleGroupID string          `json:"puzzleGroupId"`
			TokenIDs      []string        `json:"tokenIds"`
			Type          string          `json:"type"`
			Tier          json.RawMessage `json:"tier"`
		} `json:"packs"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode packs: %w", err)
	}

	out := make([]domain.Pack, 0, len(result.Packs))
	for _, p := range result.Packs {
		out = append(out, domain.Pack{
			ID:            p.ID,
			RequestID:     p.RequestID,
			Owner:         p.Owner,
			PuzzleGroupID: p.PuzzleGroupID,
			TokenIDs:      p.TokenIDs,
			Type:          p.Type,
			Tier:          parseTier(p.Tier),
		})
	}
	return out, nil
}

// FetchPrizes returns the prizes won by winner.
func (c *Client) FetchPrizes(ctx context.Context, winner string) ([]domain.Prize, error) {
	addr, err := normalizeAddress(winner)
	if err != nil {
		return nil, err
	}

	q := Query{
		Document: `
		query Prizes($winner: Bytes!, $first: Int!) {
			prizes(first: $first, where: { winner: $winner }) {
				id
				claimed
				winner
				tokenId
				prize
			}
		}`,
		Variables: map[string]any{"winner": addr, "first": rewardsPageSize},
	}

	respData, err := c.doQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch prizes: %w", err)
	}

	var result struct {
		Prizes []struct {
			ID      string  `json:"id"`
			Claimed bool    `json:"claimed"`
			Winner  string  `json:"winner"`
			TokenID *string `json:"tokenId"`
			Prize   string  `json:"prize"`
		} `json:"prizes"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode prizes: %w", err)
	}

	out := make([]domain.Prize, 0, len(result.Prizes))
	for _, p := range result.Prizes {
		out = append(out, domain.Prize{
			ID:      p.ID,
			Claimed: p.Claimed,
			Winner:  p.Winner,
			TokenID: deref(p.TokenID),
			Prize:   p.Prize,
		})
	}
	return out, nil
}

// parseTier accepts the tier as either a JSON number or a BigInt string.
func parseTier(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, _ = strconv.Atoi(s)
	}
	return n
}
