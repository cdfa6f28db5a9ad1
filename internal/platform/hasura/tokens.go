package hasura

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// FetchTokensByOwner returns the mirrored tokens held by owner. Owners are
// stored lower-cased.
func (c *Client) FetchTokensByOwner(ctx context.Context, owner string) ([]domain.Token, error) {
	var out struct {
		Tokens []domain.Token `json:"tokens"`
	}
	vars := map[string]any{"owner": strings.ToLower(owner)}
	if err := c.Do(ctx, fetchTokensByOwner, vars, &out); err != nil {
		return nil, fmt.Errorf("hasura: fetch tokens by owner: %w", err)
	}
	return out.Tokens, nil
}

// FetchTokensByTokenIDs returns the mirrored tokens with the given store ids.
func (c *Client) FetchTokensByTokenIDs(ctx context.Context, tokenIDs []string) ([]domain.Token, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}
	var out struct {
		Tokens []domain.Token `json:"tokens"`
	}
	vars := map[string]any{"tokenIds": tokenIDs}
	if err := c.Do(ctx, fetchTokensByTokenIDs, vars, &out); err != nil {
		return nil, fmt.Errorf("hasura: fetch tokens by ids: %w", err)
	}
	return out.Tokens, nil
}

// tokenInsert is the tokens_insert_input shape.
type tokenInsert struct {
	TokenID   string `json:"token_id"`
	Owner     string `json:"owner"`
	CID       string `json:"cid"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

// UpsertTokens inserts tokens, updating the owner of rows that already
// exist. It returns the number of affected rows.
func (c *Client) UpsertTokens(ctx context.Context, tokens []domain.Token) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	objects := make([]tokenInsert, len(tokens))
	for i, t := range tokens {
		objects[i] = tokenInsert{
			TokenID:   t.TokenID,
			Owner:     t.Owner,
			CID:       t.CID,
			Timestamp: t.Timestamp,
			Type:      t.Type,
		}
	}

	var out struct {
		InsertTokens struct {
			AffectedRows int `json:"affected_rows"`
		} `json:"insert_tokens"`
	}
	if err := c.Do(ctx, upsertTokens, map[string]any{"objects": objects}, &out); err != nil {
		return 0, fmt.Errorf("hasura: upsert tokens: %w", err)
	}
	return out.InsertTokens.AffectedRows, nil
}

// DeleteTokens removes mirrored tokens by store id.
func (c *Client) DeleteTokens(ctx context.Context, tokenIDs []string) (int, error) {
	if len(tokenIDs) == 0 {
		return 0, nil
	}
	var out struct {
		DeleteTokens struct {
			AffectedRows int `json:"affected_rows"`
		} `json:"delete_tokens"`
	}
	if err := c.Do(ctx, deleteTokens, map[string]any{"pieceIds": tokenIDs}, &out); err != nil {
		return 0, fmt.Errorf("hasura: delete tokens: %w", err)
	}
	return out.DeleteTokens.AffectedRows, nil
}
