package hasura

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// FetchActiveBouncer returns the currently active bouncer and the total
// number of bouncers. domain.ErrNotFound is returned when none is active.
func (c *Client) FetchActiveBouncer(ctx context.Context) (domain.Bouncer, int, error) {
	var out struct {
		Bouncers []struct {
			ID         int    `json:"id"`
			Address    string `json:"address"`
			PrivateKey string `json:"privateKey"`
			Active     bool   `json:"active"`
		} `json:"bouncers"`
		Aggregate struct {
			Aggregate struct {
				Count int `json:"count"`
			} `json:"aggregate"`
		} `json:"bouncers_aggregate"`
	}
	if err := c.Do(ctx, fetchActiveBouncer, nil, &out); err != nil {
		return domain.Bouncer{}, 0, fmt.Errorf("hasura: fetch active bouncer: %w", err)
	}
	if len(out.Bouncers) == 0 {
		return domain.Bouncer{}, out.Aggregate.Aggregate.Count, fmt.Errorf("hasura: active bouncer: %w", domain.ErrNotFound)
	}
	b := out.Bouncers[0]
	return domain.Bouncer{
		ID:         b.ID,
		Address:    b.Address,
		PrivateKey: b.PrivateKey,
		Active:     b.Active,
	}, out.Aggregate.Aggregate.Count, nil
}

// NextBouncerID returns the id that follows activeID in a 1-based ring of
// count bouncers.
func NextBouncerID(activeID, count int) int {
	if count <= 0 {
		return activeID
	}
	return (activeID % count) + 1
}

// RotateBouncer deactivates activeID and activates the next bouncer in the
// ring. It returns the id that became active.
func (c *Client) RotateBouncer(ctx context.Context, activeID, count int) (int, error) {
	next := NextBouncerID(activeID, count)
	vars := map[string]any{"nextId": next, "activeId": activeID}
	if err := c.Do(ctx, updateActiveBouncer, vars, nil); err != nil {
		return 0, fmt.Errorf("hasura: rotate bouncer: %w", err)
	}
	return next, nil
}
