package subgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

const sellerAddr = "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01"

func TestListingFilterBuild(t *testing.T) {
	t.Run("all listings forward page", func(t *testing.T) {
		q, err := ListingFilter{
			Type:  domain.ListingCreated,
			After: domain.MinTimestamp,
			First: domain.ListingsLimit,
		}.Build()
		require.NoError(t, err)

		assert.Contains(t, q.Document, "timestamp_gt: $after")
		assert.Contains(t, q.Document, "type: LISTING_CREATED")
		assert.Contains(t, q.Document, "orderDirection: asc")
		assert.NotContains(t, q.Document, string(domain.MinTimestamp), "cursor must travel as a variable")
		assert.Equal(t, string(domain.MinTimestamp), q.Variables["after"])
		assert.Equal(t, domain.ListingsLimit, q.Variables["first"])
	})

	t.Run("seller scoped with active pieces", func(t *testing.T) {
		q, err := ListingFilter{
			Type:          domain.ListingCreated,
			After:         domain.MinTimestamp,
			Seller:        sellerAddr,
			SellerPieceIn: []string{"QmA", "QmB"},
			First:         10,
		}.Build()
		require.NoError(t, err)

		assert.Equal(t, strings.ToLower(sellerAddr), q.Variables["seller"])
		assert.Equal(t, []string{"QmA", "QmB"}, q.Variables["sellerPieces"])
		assert.Contains(t, q.Document, "$sellerPieces: [String!]")
	})

	t.Run("history is newest first", func(t *testing.T) {
		q, err := ListingFilter{
			Type:       domain.ListingSwapped,
			Before:     domain.MaxTimestamp,
			Buyer:      sellerAddr,
			First:      10,
			Descending: true,
		}.Build()
		require.NoError(t, err)

		assert.Contains(t, q.Document, "timestamp_lt: $before")
		assert.Contains(t, q.Document, "orderDirection: desc")
	})

	t.Run("listing ids are normalised", func(t *testing.T) {
		q, err := ListingFilter{IDIn: []string{sellerAddr + "-12"}, First: 1}.Build()
		require.NoError(t, err)
		assert.Equal(t, []string{strings.ToLower(sellerAddr) + "-12"}, q.Variables["ids"])
	})
}

func TestListingFilterRejectsBadInput(t *testing.T) {
	cases := map[string]ListingFilter{
		"injected cursor": {After: `0"}) { secrets }`, First: 10},
		"bad address":     {Seller: `0x1", type: LISTING_DELETED`, First: 10},
		"bad cid":         {SellerPieceIn: []string{`Qm"] }`}, First: 10},
		"bad listing id":  {IDIn: []string{"nope"}, First: 10},
		"zero first":      {First: 0},
		"unknown type":    {Type: "LISTING_HACKED", First: 10},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.Build()
			assert.Error(t, err)
		})
	}
}

func TestTransferFilterBuild(t *testing.T) {
	q, err := TransferFilter{Type: domain.TransferTypePiece, First: domain.TransfersLimit}.Build()
	require.NoError(t, err)

	assert.Equal(t, string(domain.MinTimestamp), q.Variables["after"], "empty cursor starts from the beginning")
	assert.Equal(t, domain.TransferTypePiece, q.Variables["type"])
	assert.Contains(t, q.Document, "transfers(")
}

func TestQueryValidate(t *testing.T) {
	t.Run("undeclared variable", func(t *testing.T) {
		q := Query{
			Document:  `query X($a: Int!) { things(first: $a) { id } }`,
			Variables: map[string]any{"a": 1, "b": 2},
		}
		assert.ErrorContains(t, q.Validate(), "undeclared variables [b]")
	})

	t.Run("missing required variable", func(t *testing.T) {
		q := Query{Document: `query X($a: Int!) { things(first: $a) { id } }`}
		assert.ErrorContains(t, q.Validate(), "missing value for $a")
	})

	t.Run("syntax error", func(t *testing.T) {
		q := Query{Document: `query X( { }`}
		assert.Error(t, q.Validate())
	})
}
