package subgraph_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/platform/subgraph"
)

type capturedRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newServer(t *testing.T, data string, seen *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchListings(t *testing.T) {
	var seen capturedRequest
	srv := newServer(t, `{"data":{"listings":[
		{"id":"0xs-1","seller":"0xs","sellerTokenId":"1","sellerPiece":"A","wantsPieces":["B","Z"],
		 "buyer":null,"buyerTokenId":null,"buyerPiece":null,"type":"LISTING_CREATED",
		 "timestamp":"00000000000000000005-00000000000000000001"}]}}`, &seen)

	c := subgraph.NewClient(srv.URL, "key", subgraph.WithRateLimit(100, 1))
	listings, err := c.FetchListings(context.Background(), subgraph.ListingFilter{
		Type:  domain.ListingCreated,
		After: domain.MinTimestamp,
		First: 10,
	})
	require.NoError(t, err)
	require.Len(t, listings, 1)

	l := listings[0]
	assert.Equal(t, []string{"B", "Z"}, l.WantCIDs())
	assert.Equal(t, domain.NewTimestamp(5, 1), l.Timestamp)
	assert.Empty(t, l.Buyer)
	assert.Equal(t, string(domain.MinTimestamp), seen.Variables["after"])
}

func TestFetchReturnsGraphQLErrors(t *testing.T) {
	var seen capturedRequest
	srv := newServer(t, `{"errors":[{"message":"indexing error"}]}`, &seen)

	c := subgraph.NewClient(srv.URL, "key")
	_, err := c.FetchTransfers(context.Background(), domain.MinTimestamp, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing error")
}

func TestFetchCompletedPacks(t *testing.T) {
	var seen capturedRequest
	srv := newServer(t, `{"data":{"packs":[{"id":"p1","requestId":"9","owner":"0xs","puzzleGroupId":"2","tokenIds":["1","2"],"type":"PACK_PURCHASE_COMPLETED","tier":"0"}]}}`, &seen)

	c := subgraph.NewClient(srv.URL, "key")
	packs, err := c.FetchCompletedPacks(context.Background(), "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
	require.NoError(t, err)
	require.Len(t, packs, 1)
	assert.Equal(t, "9", packs[0].RequestID)
	assert.Equal(t, 0, packs[0].Tier)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", seen.Variables["owner"])
}
