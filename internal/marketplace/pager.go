package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/metrics"
	"github.com/alanyoungcy/puzzlr/internal/platform/subgraph"
)

// View names one of the paginated listing views.
type View string

const (
	ViewAll    View = "all"
	ViewMine   View = "mine"
	ViewSold   View = "sold"
	ViewBought View = "bought"
)

// History reports whether v pages newest-first through fulfilled swaps.
func (v View) History() bool { return v == ViewSold || v == ViewBought }

// Seed is the cursor a view starts from when the client sends none.
func (v View) Seed() domain.Timestamp {
	if v.History() {
		return domain.MaxTimestamp
	}
	return domain.MinTimestamp
}

func (v View) valid() bool {
	switch v {
	case ViewAll, ViewMine, ViewSold, ViewBought:
		return true
	}
	return false
}

// ListingSource fetches raw listing events from the subgraph.
type ListingSource interface {
	FetchListings(ctx context.Context, filter subgraph.ListingFilter) ([]domain.Listing, error)
}

// PuzzleSource fetches puzzle state from the metadata store.
type PuzzleSource interface {
	FetchLivePuzzles(ctx context.Context) ([]domain.Puzzle, error)
	FetchPuzzles(ctx context.Context) ([]domain.Puzzle, error)
}

// PageRequest asks for the page of View that follows Cursor.
type PageRequest struct {
	View View
	// Cursor is the cursor returned with the previous page; empty starts
	// from the view's seed.
	Cursor  string
	Limit   int
	Address string
}

// Pager assembles listing pages.
type Pager struct {
	listings    ListingSource
	puzzles     PuzzleSource
	enricher    *Enricher
	activeGroup int
	limit       int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// PagerOption configures a Pager.
type PagerOption func(*Pager)

// WithLimit overrides the default page size.
func WithLimit(n int) PagerOption {
	return func(p *Pager) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithMetrics records page statistics into m.
func WithMetrics(m *metrics.Metrics) PagerOption {
	return func(p *Pager) { p.metrics = m }
}

// WithLogger sets the pager's logger.
func WithLogger(l *slog.Logger) PagerOption {
	return func(p *Pager) { p.logger = l }
}

// NewPager creates a Pager for a game whose active puzzle group is
// activeGroup.
func NewPager(listings ListingSource, puzzles PuzzleSource, metadata MetadataSource, activeGroup int, opts ...PagerOption) *Pager {
	p := &Pager{
		listings:    listings,
		puzzles:     puzzles,
		enricher:    NewEnricher(metadata),
		activeGroup: activeGroup,
		limit:       domain.ListingsLimit,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// NextPage fetches up to Limit raw events strictly beyond the cursor and
// returns the ones that survive enrichment and filtering. The returned
// cursor is the last raw event's timestamp, so a page emptied by filtering
// still advances; HasMore is true whenever the raw batch was full.
func (p *Pager) NextPage(ctx context.Context, req PageRequest) (domain.Page, error) {
	start := time.Now()

	if !req.View.valid() {
		return domain.Page{}, fmt.Errorf("marketplace: unknown view %q: %w", req.View, domain.ErrInvalidParams)
	}
	if req.View != ViewAll && req.Address == "" {
		return domain.Page{}, fmt.Errorf("marketplace: %s view needs an address: %w", req.View, domain.ErrInvalidParams)
	}
	cursor, err := domain.ParseTimestamp(req.Cursor, req.View.Seed())
	if err != nil {
		return domain.Page{}, fmt.Errorf("marketplace: %w", err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = p.limit
	}

	var page domain.Page
	if req.View.History() {
		page, err = p.historyPage(ctx, req, cursor, limit)
	} else {
		page, err = p.activePage(ctx, req, cursor, limit)
	}
	if err != nil {
		return domain.Page{}, err
	}

	if page.Raw == 0 {
		page.Cursor = cursor
	}
	page.HasMore = page.Raw == limit
	if page.Listings == nil {
		page.Listings = []domain.Listing{}
	}

	p.metrics.ObservePage(string(req.View), page.Raw, len(page.Listings), time.Since(start))
	p.logger.Debug("listing page assembled",
		slog.String("view", string(req.View)),
		slog.String("cursor", string(page.Cursor)),
		slog.Int("raw", page.Raw),
		slog.Int("kept", len(page.Listings)),
	)
	return page, nil
}

// activePage serves the forward views. The all view fetches events and live
// puzzles concurrently; the mine view needs the live pieces first to narrow
// the subgraph query.
func (p *Pager) activePage(ctx context.Context, req PageRequest, cursor domain.Timestamp, limit int) (domain.Page, error) {
	filter := subgraph.ListingFilter{
		Type:  domain.ListingCreated,
		After: cursor,
		First: limit,
	}

	var (
		raw  []domain.Listing
		live LivePieces
	)
	if req.View == ViewMine {
		puzzles, err := p.puzzles.FetchLivePuzzles(ctx)
		if err != nil {
			return domain.Page{}, fmt.Errorf("marketplace: live puzzles: %w", err)
		}
		live = NewLivePieces(puzzles)
		filter.Seller = req.Address
		if n := live.Len(); n > 0 && n <= maxSellerPieces {
			filter.SellerPieceIn = live.CIDs()
		}
		raw, err = p.listings.FetchListings(ctx, filter)
		if err != nil {
			return domain.Page{}, fmt.Errorf("marketplace: fetch listings: %w", err)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			raw, err = p.listings.FetchListings(gctx, filter)
			if err != nil {
				return fmt.Errorf("marketplace: fetch listings: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			puzzles, err := p.puzzles.FetchLivePuzzles(gctx)
			if err != nil {
				return fmt.Errorf("marketplace: live puzzles: %w", err)
			}
			live = NewLivePieces(puzzles)
			return nil
		})
		if err := g.Wait(); err != nil {
			return domain.Page{}, err
		}
	}

	images, err := p.enricher.Images(ctx, ListingCIDs(raw))
	if err != nil {
		return domain.Page{}, err
	}
	kept := FilterListings(Resolve(raw, images, live), p.activeGroup)

	return domain.Page{
		Listings: kept,
		Cursor:   lastTimestamp(raw),
		Raw:      len(raw),
	}, nil
}

// maxSellerPieces bounds the sellerPiece_in list sent to the subgraph.
// Larger sets fall back to filtering after the fetch.
const maxSellerPieces = 1000

// historyPage serves the sold and bought views newest first. The raw fetch
// runs concurrently with the puzzle lookup; metadata follows once the CIDs
// are known.
func (p *Pager) historyPage(ctx context.Context, req PageRequest, cursor domain.Timestamp, limit int) (domain.Page, error) {
	filter := subgraph.ListingFilter{
		Type:       domain.ListingSwapped,
		Before:     cursor,
		First:      limit,
		Descending: true,
	}
	if req.View == ViewSold {
		filter.Seller = req.Address
	} else {
		filter.Buyer = req.Address
	}

	var (
		raw     []domain.Listing
		puzzles []domain.Puzzle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		raw, err = p.listings.FetchListings(gctx, filter)
		if err != nil {
			return fmt.Errorf("marketplace: fetch swap history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		puzzles, err = p.puzzles.FetchPuzzles(gctx)
		if err != nil {
			return fmt.Errorf("marketplace: puzzles: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Page{}, err
	}

	images, err := p.enricher.Images(ctx, ListingCIDs(raw))
	if err != nil {
		return domain.Page{}, err
	}

	return domain.Page{
		Listings: ResolveHistory(raw, images, puzzles),
		Cursor:   lastTimestamp(raw),
		Raw:      len(raw),
	}, nil
}

func lastTimestamp(raw []domain.Listing) domain.Timestamp {
	if len(raw) == 0 {
		return ""
	}
	return raw[len(raw)-1].Timestamp
}

// Accumulator concatenates successive pages of one view. It only accepts
// the page that follows the cursor it last handed out, so pages cannot be
// skipped or applied twice.
type Accumulator struct {
	view     View
	cursor   domain.Timestamp
	listings []domain.Listing
	done     bool
}

// ErrExhausted is returned by Accumulator.Next once the view has no more
// pages.
var ErrExhausted = errors.New("marketplace: view exhausted")

// NewAccumulator starts accumulating view from its seed cursor.
func NewAccumulator(view View) *Accumulator {
	return &Accumulator{view: view, cursor: view.Seed()}
}

// Cursor returns the cursor to request the next page with.
func (a *Accumulator) Cursor() domain.Timestamp { return a.cursor }

// Listings returns everything accumulated so far.
func (a *Accumulator) Listings() []domain.Listing { return a.listings }

// Done reports whether the last page said there is nothing more.
func (a *Accumulator) Done() bool { return a.done }

// Append adds page, which must have been requested with from.
func (a *Accumulator) Append(from domain.Timestamp, page domain.Page) error {
	if from != a.cursor {
		return fmt.Errorf("marketplace: page requested at %s, expected %s: %w", from, a.cursor, domain.ErrStaleCursor)
	}
	a.listings = append(a.listings, page.Listings...)
	a.cursor = page.Cursor
	a.done = !page.HasMore
	return nil
}

// Next fetches and appends the following page from p.
func (a *Accumulator) Next(ctx context.Context, p *Pager, address string) (domain.Page, error) {
	if a.done {
		return domain.Page{}, ErrExhausted
	}
	from := a.cursor
	page, err := p.NextPage(ctx, PageRequest{View: a.view, Cursor: string(from), Address: address})
	if err != nil {
		return domain.Page{}, err
	}
	if err := a.Append(from, page); err != nil {
		return domain.Page{}, err
	}
	return page, nil
}
