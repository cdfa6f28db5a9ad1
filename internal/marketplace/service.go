package marketplace

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// TokenSource lists the mirrored tokens an address owns.
type TokenSource interface {
	FetchTokensByOwner(ctx context.Context, owner string) ([]domain.Token, error)
}

// RewardSource lists pack purchases and prizes from the subgraph.
type RewardSource interface {
	FetchCompletedPacks(ctx context.Context, owner string) ([]domain.Pack, error)
	FetchPrizes(ctx context.Context, winner string) ([]domain.Prize, error)
}

// PuzzleHistory lists the puzzles of a group that have been won.
type PuzzleHistory interface {
	PuzzleSource
	FetchCompletedPuzzlesForGroup(ctx context.Context, groupID int) ([]domain.Puzzle, error)
}

// Service serves the per-address read-through views that sit beside the
// listing pages.
type Service struct {
	puzzles  PuzzleHistory
	tokens   TokenSource
	rewards  RewardSource
	enricher *Enricher
}

// NewService creates a Service.
func NewService(puzzles PuzzleHistory, tokens TokenSource, rewards RewardSource, metadata MetadataSource) *Service {
	return &Service{
		puzzles:  puzzles,
		tokens:   tokens,
		rewards:  rewards,
		enricher: NewEnricher(metadata),
	}
}

// LivePieces returns the tokens owner holds whose CID belongs to a live
// puzzle, tagged with that puzzle.
func (s *Service) LivePieces(ctx context.Context, owner string) ([]domain.Piece, error) {
	var (
		tokens  []domain.Token
		puzzles []domain.Puzzle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tokens, err = s.tokens.FetchTokensByOwner(gctx, owner)
		if err != nil {
			return fmt.Errorf("marketplace: tokens of %s: %w", owner, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		puzzles, err = s.puzzles.FetchLivePuzzles(gctx)
		if err != nil {
			return fmt.Errorf("marketplace: live puzzles: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	live := NewLivePieces(puzzles)
	pieces := make([]domain.Piece, 0, len(tokens))
	for _, t := range tokens {
		p, ok := live.PuzzleFor(t.CID)
		if !ok {
			continue
		}
		pieces = append(pieces, domain.Piece{
			Token:         t,
			PuzzleID:      p.ID,
			PuzzleName:    p.Name,
			PuzzleGroupID: p.GroupID,
		})
	}
	return pieces, nil
}

// LivePuzzles returns the live puzzles with piece and prize image URLs
// aligned to their Pieces and Prizes.
func (s *Service) LivePuzzles(ctx context.Context) ([]domain.Puzzle, error) {
	puzzles, err := s.puzzles.FetchLivePuzzles(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketplace: live puzzles: %w", err)
	}
	if len(puzzles) == 0 {
		return []domain.Puzzle{}, nil
	}

	var cids []string
	for _, p := range puzzles {
		cids = append(cids, p.Pieces...)
		cids = append(cids, p.Prizes...)
	}
	images, err := s.enricher.Images(ctx, cids)
	if err != nil {
		return nil, err
	}

	for i := range puzzles {
		p := &puzzles[i]
		p.PiecesImageURLs = make([]string, len(p.Pieces))
		for j, cid := range p.Pieces {
			p.PiecesImageURLs[j] = images[cid]
		}
		p.PrizesImageURLs = make([]string, len(p.Prizes))
		for j, cid := range p.Prizes {
			p.PrizesImageURLs[j] = images[cid]
		}
	}
	return puzzles, nil
}

// CompletedPuzzles returns the completed puzzles of groupID.
func (s *Service) CompletedPuzzles(ctx context.Context, groupID int) ([]domain.Puzzle, error) {
	if groupID <= 0 {
		return nil, fmt.Errorf("marketplace: %w: group %d", domain.ErrInvalidParams, groupID)
	}
	puzzles, err := s.puzzles.FetchCompletedPuzzlesForGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("marketplace: completed puzzles of group %d: %w", groupID, err)
	}
	out := make([]domain.Puzzle, 0, len(puzzles))
	for _, p := range puzzles {
		p.GroupID = groupID
		p.Completed = true
		out = append(out, p)
	}
	return out, nil
}

// Packs returns owner's completed pack purchases.
func (s *Service) Packs(ctx context.Context, owner string) ([]domain.Pack, error) {
	packs, err := s.rewards.FetchCompletedPacks(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("marketplace: packs of %s: %w", owner, err)
	}
	if packs == nil {
		packs = []domain.Pack{}
	}
	return packs, nil
}

// Winnings returns the prizes won by winner, joined with the puzzle that
// awarded each prize and the prize image.
func (s *Service) Winnings(ctx context.Context, winner string) ([]domain.Winning, error) {
	var (
		prizes  []domain.Prize
		puzzles []domain.Puzzle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prizes, err = s.rewards.FetchPrizes(gctx, winner)
		if err != nil {
			return fmt.Errorf("marketplace: prizes of %s: %w", winner, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		puzzles, err = s.puzzles.FetchPuzzles(gctx)
		if err != nil {
			return fmt.Errorf("marketplace: puzzles: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cids := make([]string, len(prizes))
	for i, p := range prizes {
		cids[i] = p.Prize
	}
	images, err := s.enricher.Images(ctx, cids)
	if err != nil {
		return nil, err
	}

	winnings := make([]domain.Winning, 0, len(prizes))
	for _, pr := range prizes {
		w := domain.Winning{
			Claimed:       pr.Claimed,
			Prize:         pr.Prize,
			PrizeImageURL: images[pr.Prize],
			TokenID:       pr.TokenID,
		}
		if p, ok := puzzleAwarding(puzzles, pr.Prize); ok {
			w.Name = p.Name
			w.Description = p.Description
			w.PuzzleID = p.ID
			w.PuzzleGroupID = p.GroupID
		}
		winnings = append(winnings, w)
	}
	return winnings, nil
}

func puzzleAwarding(puzzles []domain.Puzzle, prize string) (domain.Puzzle, bool) {
	for _, p := range puzzles {
		for _, c := range p.Prizes {
			if c == prize {
				return p, true
			}
		}
	}
	return domain.Puzzle{}, false
}
