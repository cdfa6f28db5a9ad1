package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/puzzlr/internal/dispatch"
	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/marketplace"
	"github.com/alanyoungcy/puzzlr/internal/metrics"
	"github.com/alanyoungcy/puzzlr/internal/pipeline"
	"github.com/alanyoungcy/puzzlr/internal/server"
	"github.com/alanyoungcy/puzzlr/internal/server/handler"
)

const (
	seller   = "0x00000000000000000000000000000000000000aa"
	adminKey = "s3cret"
)

type fakePager struct {
	reqs []marketplace.PageRequest
	page domain.Page
	err  error
}

func (f *fakePager) NextPage(_ context.Context, req marketplace.PageRequest) (domain.Page, error) {
	f.reqs = append(f.reqs, req)
	return f.page, f.err
}

type fakeAccount struct {
	pieces []domain.Piece
	err    error
	owner  string
}

func (f *fakeAccount) LivePieces(_ context.Context, owner string) ([]domain.Piece, error) {
	f.owner = owner
	return f.pieces, f.err
}

func (f *fakeAccount) LivePuzzles(context.Context) ([]domain.Puzzle, error) { return nil, f.err }

func (f *fakeAccount) CompletedPuzzles(_ context.Context, group int) ([]domain.Puzzle, error) {
	return []domain.Puzzle{{ID: 4, GroupID: group, Completed: true}}, f.err
}

func (f *fakeAccount) Packs(context.Context, string) ([]domain.Pack, error) { return nil, f.err }

func (f *fakeAccount) Winnings(context.Context, string) ([]domain.Winning, error) {
	return []domain.Winning{{Name: "Sunset", Prize: "cid-p"}}, f.err
}

type fakeDispatcher struct {
	req  dispatch.Request
	hash string
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req dispatch.Request) (string, error) {
	f.req = req
	return f.hash, f.err
}

type fakePoller struct {
	cursor domain.Timestamp
	runErr error
}

func (f *fakePoller) Cursor(context.Context) (domain.Timestamp, error) { return f.cursor, nil }

func (f *fakePoller) ResetCursor(_ context.Context, ts domain.Timestamp) error {
	f.cursor = ts
	return nil
}

func (f *fakePoller) Run(context.Context) (pipeline.PollResult, error) {
	return pipeline.PollResult{Fetched: 3, Upserted: 2, Cursor: f.cursor}, f.runErr
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type fakeStream struct {
	msgs  []domain.StreamMessage
	after string
}

func (f *fakeStream) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	f.after = lastID
	if count < len(f.msgs) {
		return f.msgs[:count], nil
	}
	return f.msgs, nil
}

type fixture struct {
	pager   *fakePager
	account *fakeAccount
	disp    *fakeDispatcher
	poller  *fakePoller
	stream  *fakeStream
	handler http.Handler
}

func newFixture(t *testing.T, deps server.Deps) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		pager:   &fakePager{page: domain.Page{Cursor: domain.NewTimestamp(7, 1), HasMore: true}},
		account: &fakeAccount{},
		disp:    &fakeDispatcher{hash: "0xabc"},
		poller:  &fakePoller{cursor: domain.NewTimestamp(100, 0)},
		stream: &fakeStream{msgs: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`{"txHash":"0x1"}`)},
			{ID: "2-0", Payload: []byte(`not json`)},
			{ID: "3-0", Payload: []byte(`{"txHash":"0x3"}`)},
		}},
	}
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Listings: handler.NewListingsHandler(map[string]handler.PageSource{"nearcomm": f.pager}, "nearcomm", logger),
		Account:  handler.NewAccountHandler(f.account, logger),
		MetaTx:   handler.NewMetaTxHandler(f.disp, logger),
		Admin:    handler.NewAdminHandler(f.poller, logger).WithDispatchLog(f.stream),
	}
	f.handler = server.NewServer(server.Config{AdminAPIKey: adminKey, RateLimit: 100, RateLimitWindow: time.Minute}, handlers, deps, logger).Handler()
	return f
}

func (f *fixture) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, server.Deps{})
	rec := f.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestListingsPage(t *testing.T) {
	f := newFixture(t, server.Deps{})
	rec := f.do(http.MethodGet, "/api/listings?timestamp="+string(domain.NewTimestamp(5, 0)), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, []any{}, body["listings"])
	assert.Equal(t, string(domain.NewTimestamp(7, 1)), body["cursor"])
	assert.Equal(t, true, body["hasMore"])

	require.Len(t, f.pager.reqs, 1)
	assert.Equal(t, marketplace.ViewAll, f.pager.reqs[0].View)
	assert.Equal(t, string(domain.NewTimestamp(5, 0)), f.pager.reqs[0].Cursor)
}

func TestListingsUnknownGame(t *testing.T) {
	f := newFixture(t, server.Deps{})
	rec := f.do(http.MethodGet, "/api/listings?game=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, true, decode(t, rec)["error"])
}

func TestMyListingsValidatesAddress(t *testing.T) {
	f := newFixture(t, server.Deps{})

	rec := f.do(http.MethodGet, "/api/not-an-address/mylistings", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.pager.reqs)

	rec = f.do(http.MethodGet, "/api/0x00000000000000000000000000000000000000AA/mylistings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.pager.reqs, 1)
	assert.Equal(t, marketplace.ViewMine, f.pager.reqs[0].View)
	assert.Equal(t, seller, f.pager.reqs[0].Address)
}

func TestSwapHistoryKeys(t *testing.T) {
	f := newFixture(t, server.Deps{})

	rec := f.do(http.MethodGet, "/api/"+seller+"/swapHistory?type=BOUGHT", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "boughtListings")
	assert.NotContains(t, body, "soldListings")
	assert.Equal(t, marketplace.ViewBought, f.pager.reqs[0].View)

	rec = f.do(http.MethodGet, "/api/"+seller+"/swapHistory?type=SOLD", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "soldListings")

	rec = f.do(http.MethodGet, "/api/"+seller+"/swapHistory", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Type must be provided", decode(t, rec)["message"])
}

func TestPageErrorsMapToStatus(t *testing.T) {
	f := newFixture(t, server.Deps{})

	f.pager.err = fmt.Errorf("marketplace: %w", domain.ErrInvalidCursor)
	rec := f.do(http.MethodGet, "/api/listings?timestamp=bad", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.pager.err = errors.New("subgraph: status 502")
	rec = f.do(http.MethodGet, "/api/listings", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["error"])
	assert.Equal(t, "Error getting all the listings: subgraph: status 502", body["message"])
}

func TestAccountRoutes(t *testing.T) {
	f := newFixture(t, server.Deps{})

	rec := f.do(http.MethodGet, "/api/"+seller+"/livepieces", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, seller, f.account.owner)

	rec = f.do(http.MethodGet, "/api/"+seller+"/winnings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"prize":"cid-p"`)

	rec = f.do(http.MethodGet, "/api/puzzles/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/puzzles/completed/2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"group_id":2`)

	rec = f.do(http.MethodGet, "/api/puzzles/completed/zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.account.err = errors.New("hasura: down")
	rec = f.do(http.MethodGet, "/api/"+seller+"/packs", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetaTxns(t *testing.T) {
	f := newFixture(t, server.Deps{})
	body := `{"game":"nearcomm","action":"CREATE_LISTING","params":{"tokenIds":["1"],"wants":["cid"]},"ethAddress":"` + seller + `","signature":"0x01"}`

	rec := f.do(http.MethodPost, "/api/metatxns", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"txnHash":"0xabc"}`, rec.Body.String())
	assert.Equal(t, dispatch.ActionCreateListing, f.disp.req.Action)

	rec = f.do(http.MethodPost, "/api/metatxns", "{", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing request body", decode(t, rec)["message"])

	f.disp.err = fmt.Errorf("dispatch: %w", domain.ErrInvalidSignature)
	rec = f.do(http.MethodPost, "/api/metatxns", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.disp.err = &dispatch.ContractError{Action: dispatch.ActionCreateListing, Message: "execution reverted: not owner"}
	rec = f.do(http.MethodPost, "/api/metatxns", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Error sending metatransaction: execution reverted: not owner", decode(t, rec)["message"])
}

func TestAdminRequiresKey(t *testing.T) {
	f := newFixture(t, server.Deps{})

	rec := f.do(http.MethodGet, "/api/admin/cursor", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/cursor", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/cursor", "", map[string]string{"X-API-Key": adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(domain.NewTimestamp(100, 0)), decode(t, rec)["cursor"])
}

func TestAdminCursorResetAndTrigger(t *testing.T) {
	f := newFixture(t, server.Deps{})
	key := map[string]string{"X-API-Key": adminKey}

	rec := f.do(http.MethodPut, "/api/admin/cursor", `{"cursor":"`+string(domain.NewTimestamp(9, 2))+`"}`, key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.NewTimestamp(9, 2), f.poller.cursor)

	rec = f.do(http.MethodPut, "/api/admin/cursor", `{"cursor":"garbage"}`, key)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/api/admin/cursor", `{}`, key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.MinTimestamp, f.poller.cursor)

	rec = f.do(http.MethodPost, "/api/admin/poller/trigger", "", key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["upserted"])

	f.poller.runErr = fmt.Errorf("pipeline: poller lock: %w", domain.ErrLockHeld)
	rec = f.do(http.MethodPost, "/api/admin/poller/trigger", "", key)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminDispatches(t *testing.T) {
	f := newFixture(t, server.Deps{})
	key := map[string]string{"X-API-Key": adminKey}

	rec := f.do(http.MethodGet, "/api/admin/dispatches", "", key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", f.stream.after)
	body := decode(t, rec)
	assert.Len(t, body["dispatches"], 2)
	assert.Equal(t, "3-0", body["next"])

	rec = f.do(http.MethodGet, "/api/admin/dispatches?after=3-0&count=1", "", key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3-0", f.stream.after)

	rec = f.do(http.MethodGet, "/api/admin/dispatches?after=$", "", key)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodGet, "/api/admin/dispatches?count=0", "", key)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, server.Deps{Limiter: denyAll{}})

	rec := f.do(http.MethodGet, "/api/listings", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Empty(t, f.pager.reqs)
}

func TestMetricsRecordRoutePattern(t *testing.T) {
	f := newFixture(t, server.Deps{Metrics: metrics.New()})

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/"+seller+"/livepieces", "", nil).Code)
	rec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="GET /api/{address}/livepieces"`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, server.Deps{})
	rec := f.do(http.MethodOptions, "/api/listings", "", map[string]string{"Origin": "https://puzzlr.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://puzzlr.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
