package hasura

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// FetchLivePuzzles returns every puzzle that has started and not completed.
func (c *Client) FetchLivePuzzles(ctx context.Context) ([]domain.Puzzle, error) {
	var out struct {
		Puzzles []domain.Puzzle `json:"puzzles"`
	}
	if err := c.Do(ctx, fetchLivePuzzles, nil, &out); err != nil {
		return nil, fmt.Errorf("hasura: fetch live puzzles: %w", err)
	}
	return out.Puzzles, nil
}

// FetchPuzzles returns every puzzle regardless of state.
func (c *Client) FetchPuzzles(ctx context.Context) ([]domain.Puzzle, error) {
	var out struct {
		Puzzles []domain.Puzzle `json:"puzzles"`
	}
	if err := c.Do(ctx, fetchPuzzles, nil, &out); err != nil {
		return nil, fmt.Errorf("hasura: fetch puzzles: %w", err)
	}
	return out.Puzzles, nil
}

// FetchCompletedPuzzlesForGroup returns the completed puzzles of a group.
func (c *Client) FetchCompletedPuzzlesForGroup(ctx context.Context, groupID int) ([]domain.Puzzle, error) {
	var out struct {
		Puzzles []domain.Puzzle `json:"puzzles"`
	}
	vars := map[string]any{"groupId": groupID}
	if err := c.Do(ctx, fetchCompletedPuzzlesForGroup, vars, &out); err != nil {
		return nil, fmt.Errorf("hasura: fetch completed puzzles for group %d: %w", groupID, err)
	}
	return out.Puzzles, nil
}

// FetchMetadataByCIDs returns the metadata rows matching cids in a single
// round trip. CIDs without a row are absent from the result.
func (c *Client) FetchMetadataByCIDs(ctx context.Context, cids []string) ([]domain.Metadata, error) {
	if len(cids) == 0 {
		return nil, nil
	}
	var out struct {
		Metadata []domain.Metadata `json:"metadata"`
	}
	vars := map[string]any{"cids": cids}
	if err := c.Do(ctx, fetchMetadatasByCIDs, vars, &out); err != nil {
		return nil, fmt.Errorf("hasura: fetch metadata by cids: %w", err)
	}
	return out.Metadata, nil
}
