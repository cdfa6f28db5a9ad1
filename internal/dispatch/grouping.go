package dispatch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// Selection is one parsed "seller-sellerTokenId-wantsIndex" key.
type Selection struct {
	Seller        string
	SellerTokenID string
	WantsIndex    int
}

// ListingID returns the id of the listing the selection points into.
func (s Selection) ListingID() string { return domain.ListingID(s.Seller, s.SellerTokenID) }

// ParseSelections parses the enabled selection keys. Keys are returned
// ordered by listing then want index so grouping is deterministic.
func ParseSelections(selections map[string]bool) ([]Selection, error) {
	out := make([]Selection, 0, len(selections))
	for key, on := range selections {
		if !on {
			continue
		}
		parts := strings.Split(key, "-")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, invalid("selection %q: want seller-sellerTokenId-wantsIndex", key)
		}
		idx, err := strconv.Atoi(parts[2])
		if err != nil || idx < 0 {
			return nil, invalid("selection %q: bad wants index", key)
		}
		out = append(out, Selection{
			Seller:        strings.ToLower(parts[0]),
			SellerTokenID: parts[1],
			WantsIndex:    idx,
		})
	}
	if len(out) == 0 {
		return nil, invalid("no listings selected")
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Seller != b.Seller {
			return a.Seller < b.Seller
		}
		if a.SellerTokenID != b.SellerTokenID {
			return tokenLess(a.SellerTokenID, b.SellerTokenID)
		}
		return a.WantsIndex < b.WantsIndex
	})
	return out, nil
}

// tokenLess orders numeric token ids numerically.
func tokenLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// GroupByWanted turns selections into the deleteListings batches: one
// wanted CID per batch, each with the seller token ids withdrawn against
// it. CIDs keep the order in which the selections first reference them.
func GroupByWanted(caller string, sels []Selection, listings map[string]domain.Listing) ([][]string, []string, error) {
	var (
		wanted   []string
		tokenIDs [][]string
		slot     = map[string]int{}
		seen     = map[string]bool{}
	)
	for _, s := range sels {
		if !strings.EqualFold(s.Seller, caller) {
			return nil, nil, precondition("selection for listing %s is not owned by %s", s.ListingID(), caller)
		}
		l, ok := listings[s.ListingID()]
		if !ok {
			return nil, nil, precondition("listing %s not found", s.ListingID())
		}
		if s.WantsIndex >= len(l.Wants) {
			return nil, nil, precondition("listing %s has no want at index %d", s.ListingID(), s.WantsIndex)
		}
		cid := l.Wants[s.WantsIndex].CID

		i, ok := slot[cid]
		if !ok {
			i = len(wanted)
			slot[cid] = i
			wanted = append(wanted, cid)
			tokenIDs = append(tokenIDs, nil)
		}
		dedupKey := fmt.Sprintf("%s|%s", cid, s.SellerTokenID)
		if seen[dedupKey] {
			continue
		}
		seen[dedupKey] = true
		tokenIDs[i] = append(tokenIDs[i], s.SellerTokenID)
	}
	return tokenIDs, wanted, nil
}
