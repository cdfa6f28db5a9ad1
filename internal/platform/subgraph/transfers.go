package subgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// FetchTransfers returns piece transfers strictly after the cursor, oldest
// first.
func (c *Client) FetchTransfers(ctx context.Context, after domain.Timestamp, first int) ([]domain.Transfer, error) {
	q, err := TransferFilter{After: after, Type: domain.TransferTypePiece, First: first}.Build()
	if err != nil {
		return nil, err
	}

	respData, err := c.doQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch transfers: %w", err)
	}

	var result struct {
		Transfers []domain.Transfer `json:"transfers"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode transfers: %w", err)
	}
	return result.Transfers, nil
}
