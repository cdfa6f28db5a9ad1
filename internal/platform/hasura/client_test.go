package hasura

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

func graphqlServer(t *testing.T, respond func(req graphqlRequest) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get(adminSecretHeader))
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, respond(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchMetadataByCIDsIsOneBatch(t *testing.T) {
	calls := 0
	srv := graphqlServer(t, func(req graphqlRequest) string {
		calls++
		assert.Contains(t, req.Query, "FetchMetadatasByCIDs")
		assert.ElementsMatch(t, []any{"A", "B"}, req.Variables["cids"])
		return `{"data":{"metadata":[{"cid":"A","image_url":"a.png"},{"cid":"B","image_url":"b.png"}]}}`
	})

	c := NewClient(srv.URL, "", "secret")
	md, err := c.FetchMetadataByCIDs(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Len(t, md, 2)
	assert.Equal(t, 1, calls)

	md, err = c.FetchMetadataByCIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, md)
	assert.Equal(t, 1, calls, "empty cid set skips the round trip")
}

func TestDoSurfacesGraphQLErrors(t *testing.T) {
	srv := graphqlServer(t, func(graphqlRequest) string {
		return `{"errors":[{"message":"field 'puzzles' not found"},{"message":"second"}]}`
	})

	c := NewClient(srv.URL, "", "secret")
	_, err := c.FetchLivePuzzles(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'puzzles' not found; second")
}

func TestFetchTokensByOwnerLowercases(t *testing.T) {
	srv := graphqlServer(t, func(req graphqlRequest) string {
		assert.Equal(t, "0xabc", req.Variables["owner"])
		return `{"data":{"tokens":[{"token_id":"2-7","owner":"0xabc","cid":"A","timestamp":"t","type":"PIECE_TRANSFER","token_metadata":{"cid":"A","image_url":"a.png"}}]}}`
	})

	c := NewClient(srv.URL, "", "secret")
	tokens, err := c.FetchTokensByOwner(context.Background(), "0xABC")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "a.png", tokens[0].Metadata.ImageURL)
}

func TestBouncerRotation(t *testing.T) {
	assert.Equal(t, 2, NextBouncerID(1, 3))
	assert.Equal(t, 1, NextBouncerID(3, 3))
	assert.Equal(t, 4, NextBouncerID(4, 0))

	srv := graphqlServer(t, func(req graphqlRequest) string {
		if strings.Contains(req.Query, "UpdateActiveInBouncers") {
			assert.EqualValues(t, 1, req.Variables["nextId"])
			assert.EqualValues(t, 3, req.Variables["activeId"])
			return `{"data":{"setActiveFalse":{"affected_rows":1},"setActiveTrue":{"affected_rows":1}}}`
		}
		return `{"data":{"bouncers":[{"id":3,"address":"0xb","privateKey":"enc","active":true}],"bouncers_aggregate":{"aggregate":{"count":3}}}}`
	})

	c := NewClient(srv.URL, "", "secret")
	b, count, err := c.FetchActiveBouncer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, b.ID)
	assert.Equal(t, 3, count)

	next, err := c.RotateBouncer(context.Background(), b.ID, count)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestFetchActiveBouncerNone(t *testing.T) {
	srv := graphqlServer(t, func(graphqlRequest) string {
		return `{"data":{"bouncers":[],"bouncers_aggregate":{"aggregate":{"count":0}}}}`
	})
	c := NewClient(srv.URL, "", "secret")
	_, _, err := c.FetchActiveBouncer(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "wss://h/v1/graphql", deriveWSURL("https://h/v1/graphql"))
	assert.Equal(t, "ws://h/v1/graphql", deriveWSURL("http://h/v1/graphql"))
}

func TestSubscribeRemainingWinners(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var init wsMessage
		require.NoError(t, conn.ReadJSON(&init))
		assert.Equal(t, msgConnectionInit, init.Type)
		require.NoError(t, conn.WriteJSON(wsMessage{Type: msgConnectionAck}))

		var start wsMessage
		require.NoError(t, conn.ReadJSON(&start))
		assert.Equal(t, msgStart, start.Type)

		require.NoError(t, conn.WriteJSON(wsMessage{Type: msgKeepAlive}))
		require.NoError(t, conn.WriteJSON(wsMessage{
			ID:      start.ID,
			Type:    msgData,
			Payload: json.RawMessage(`{"data":{"puzzles":[{"id":4,"remaining_winners":2}]}}`),
		}))

		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient("http://unused", "ws"+strings.TrimPrefix(srv.URL, "http"), "secret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen []domain.PuzzleStatus
	)
	err := c.SubscribeRemainingWinners(ctx, func(ps []domain.PuzzleStatus) {
		mu.Lock()
		seen = append(seen, ps...)
		mu.Unlock()
		cancel()
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.ErrorIs(t, err, context.Canceled)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, domain.PuzzleStatus{ID: 4, RemainingWinners: 2}, seen[0])
}
