package marketplace

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// MetadataSource resolves piece CIDs to display metadata in one batch.
type MetadataSource interface {
	FetchMetadataByCIDs(ctx context.Context, cids []string) ([]domain.Metadata, error)
}

// Enricher joins listings with piece metadata and live puzzle state.
type Enricher struct {
	metadata MetadataSource
}

// NewEnricher creates an Enricher backed by metadata.
func NewEnricher(metadata MetadataSource) *Enricher {
	return &Enricher{metadata: metadata}
}

// Images fetches the image URL of every CID in one round trip. Duplicate
// and empty CIDs are collapsed before the call.
func (e *Enricher) Images(ctx context.Context, cids []string) (map[string]string, error) {
	uniq := uniqueCIDs(cids)
	images := make(map[string]string, len(uniq))
	if len(uniq) == 0 {
		return images, nil
	}
	rows, err := e.metadata.FetchMetadataByCIDs(ctx, uniq)
	if err != nil {
		return nil, fmt.Errorf("marketplace: metadata batch: %w", err)
	}
	for _, m := range rows {
		images[m.CID] = m.ImageURL
	}
	return images, nil
}

// Enrich resolves images and puzzle names for a batch of raw listings
// against live and keeps the listings whose seller piece and at least one
// want resolved. A metadata failure fails the whole batch.
func (e *Enricher) Enrich(ctx context.Context, listings []domain.Listing, live LivePieces) ([]domain.Listing, error) {
	images, err := e.Images(ctx, ListingCIDs(listings))
	if err != nil {
		return nil, err
	}
	return Resolve(listings, images, live), nil
}

// Resolve is the pure half of Enrich. Wants are updated in place so their
// order never changes; unresolved wants keep their CID and whatever image
// was found.
func Resolve(listings []domain.Listing, images map[string]string, live LivePieces) []domain.Listing {
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		wants := make([]domain.WantEntry, len(l.Wants))
		copy(wants, l.Wants)
		l.Wants = wants

		foundWant := false
		for i := range l.Wants {
			w := &l.Wants[i]
			img, hasImage := images[w.CID]
			w.Image = img
			p, isLive := live.PuzzleFor(w.CID)
			if hasImage && isLive {
				w.Resolved = true
				w.PuzzleName = p.Name
				w.PuzzleGroupID = p.GroupID
				foundWant = true
			}
		}

		img, hasImage := images[l.SellerPiece]
		l.SellerImage = img
		foundSeller := false
		if p, isLive := live.PuzzleFor(l.SellerPiece); hasImage && isLive {
			l.SellerPuzzleName = p.Name
			l.SellerPuzzleGroupID = p.GroupID
			foundSeller = true
		}

		if foundWant && foundSeller {
			out = append(out, l)
		}
	}
	return out
}

// ListingCIDs returns every seller, buyer and wanted CID referenced by
// listings.
func ListingCIDs(listings []domain.Listing) []string {
	var cids []string
	for _, l := range listings {
		cids = append(cids, l.SellerPiece)
		if l.BuyerPiece != "" {
			cids = append(cids, l.BuyerPiece)
		}
		cids = append(cids, l.WantCIDs()...)
	}
	return uniqueCIDs(cids)
}

func uniqueCIDs(cids []string) []string {
	seen := make(map[string]struct{}, len(cids))
	out := make([]string, 0, len(cids))
	for _, c := range cids {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
