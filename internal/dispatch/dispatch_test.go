package dispatch

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/puzzlr/internal/crypto"
	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/notify"
	"github.com/alanyoungcy/puzzlr/internal/platform/chain"
)

const managerAddr = "0x00000000000000000000000000000000000000fe"

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type packed struct {
	method string
	args   []any
}

type fakeContracts struct {
	mu         sync.Mutex
	packs      []packed
	sends      []chain.TxRequest
	broadcasts []chain.SentTx
	sendErr    []error
	mined      bool
	settled    bool
}

func (f *fakeContracts) PackManager(method string, args ...any) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packs = append(f.packs, packed{method: method, args: args})
	return []byte(method), nil
}

func (f *fakeContracts) PendingNonce(context.Context, common.Address) (uint64, error) {
	return 5, nil
}

func (f *fakeContracts) Sign(_ context.Context, key *ecdsa.PrivateKey, req chain.TxRequest) (chain.SentTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	nonce := uint64(5)
	if req.Nonce != nil {
		nonce = *req.Nonce
	}
	price := big.NewInt(100)
	if req.MinGasPrice != nil {
		price = req.MinGasPrice
	}
	return chain.SentTx{
		Hash:     common.BigToHash(big.NewInt(int64(len(f.sends)))),
		From:     ethcrypto.PubkeyToAddress(key.PublicKey),
		To:       req.To,
		Data:     req.Data,
		Nonce:    nonce,
		GasLimit: 21000,
		GasPrice: price,
	}, nil
}

func (f *fakeContracts) Broadcast(_ context.Context, tx chain.SentTx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, tx)
	if len(f.sendErr) > 0 {
		err := f.sendErr[0]
		f.sendErr = f.sendErr[1:]
		return err
	}
	return nil
}

func (f *fakeContracts) Send(ctx context.Context, key *ecdsa.PrivateKey, req chain.TxRequest) (chain.SentTx, error) {
	tx, err := f.Sign(ctx, key, req)
	if err != nil {
		return chain.SentTx{}, err
	}
	if err := f.Broadcast(ctx, tx); err != nil {
		return chain.SentTx{}, err
	}
	return tx, nil
}

func (f *fakeContracts) Mined(context.Context, common.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mined, nil
}

func (f *fakeContracts) Settled(context.Context, common.Address, uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled, nil
}

func (f *fakeContracts) broadcast() []chain.SentTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.SentTx(nil), f.broadcasts...)
}

func (f *fakeContracts) sent() []chain.TxRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.TxRequest(nil), f.sends...)
}

type fakeListingLookup struct {
	listings map[string]domain.Listing
	asked    [][]string
}

func (f *fakeListingLookup) FetchListingsByID(_ context.Context, ids []string) (map[string]domain.Listing, error) {
	f.asked = append(f.asked, ids)
	out := map[string]domain.Listing{}
	for _, id := range ids {
		if l, ok := f.listings[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

type fakeTokens struct {
	mu      sync.Mutex
	tokens  []domain.Token
	deleted []string
}

func (f *fakeTokens) FetchTokensByTokenIDs(_ context.Context, ids []string) ([]domain.Token, error) {
	var out []domain.Token
	for _, t := range f.tokens {
		for _, id := range ids {
			if t.TokenID == id {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (f *fakeTokens) DeleteTokens(_ context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return len(ids), nil
}

type fakeAudit struct {
	mu      sync.Mutex
	records []domain.DispatchRecord
}

func (f *fakeAudit) LogDispatch(_ context.Context, rec domain.DispatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (f *fakeAudit) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type harness struct {
	d         *Dispatcher
	contracts *fakeContracts
	listings  *fakeListingLookup
	tokens    *fakeTokens
	audit     *fakeAudit
	caller    common.Address
	sig       string
}

func testGame() domain.Game {
	return domain.Game{
		Path:                 "nearcomm",
		ManagerAddress:       managerAddr,
		ActivePuzzleGroup:    2,
		PackPurchasesEnabled: true,
		Packs: []domain.PackTier{
			{Name: "Free", Tier: 0, Price: 0, NumPieces: 3},
			{Name: "Gold", Tier: 1, Price: 5, NumPieces: 5},
		},
	}
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      1.5,
		ConfirmTimeout:  5 * time.Millisecond,
	}
}

func newHarness(t *testing.T, mined bool, games ...domain.Game) *harness {
	t.Helper()
	if len(games) == 0 {
		games = []domain.Game{testGame()}
	}
	callerKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	relayerKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.SignPersonal(crypto.LoginSigningMessage, callerKey)
	require.NoError(t, err)

	h := &harness{
		contracts: &fakeContracts{mined: mined},
		listings:  &fakeListingLookup{listings: map[string]domain.Listing{}},
		tokens:    &fakeTokens{},
		audit:     &fakeAudit{},
		caller:    ethcrypto.PubkeyToAddress(callerKey.PublicKey),
		sig:       sig,
	}
	relayer := NewRelayer(nil, nil, "", relayerKey, testLogger())
	h.d = NewDispatcher(games, h.contracts, h.listings, h.tokens, relayer, testLogger(),
		WithAudit(h.audit),
		WithRetryPolicy(fastPolicy()),
	)
	t.Cleanup(h.d.Close)
	return h
}

func (h *harness) request(action Action, params any) Request {
	raw, _ := json.Marshal(params)
	return Request{
		Game:       "nearcomm",
		Action:     action,
		Params:     raw,
		EthAddress: h.caller.Hex(),
		Signature:  h.sig,
	}
}

func TestGroupByWantedMergesSameCID(t *testing.T) {
	sels, err := ParseSelections(map[string]bool{
		"seller-T2-0": true,
		"seller-T1-0": true,
		"seller-T3-0": false,
	})
	require.NoError(t, err)
	require.Len(t, sels, 2)

	listings := map[string]domain.Listing{
		"seller-T1": {ID: "seller-T1", Wants: []domain.WantEntry{{CID: "X"}}},
		"seller-T2": {ID: "seller-T2", Wants: []domain.WantEntry{{CID: "X"}}},
	}
	tokenIDs, wanted, err := GroupByWanted("seller", sels, listings)
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, wanted)
	assert.Equal(t, [][]string{{"T1", "T2"}}, tokenIDs)
}

func TestGroupByWantedKeepsFirstSeenOrder(t *testing.T) {
	sels, err := ParseSelections(map[string]bool{
		"seller-1-1":  true,
		"seller-1-0":  true,
		"seller-10-0": true,
		"seller-2-0":  true,
	})
	require.NoError(t, err)

	listings := map[string]domain.Listing{
		"seller-1":  {Wants: []domain.WantEntry{{CID: "B"}, {CID: "A"}}},
		"seller-2":  {Wants: []domain.WantEntry{{CID: "A"}}},
		"seller-10": {Wants: []domain.WantEntry{{CID: "B"}}},
	}
	tokenIDs, wanted, err := GroupByWanted("SELLER", sels, listings)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, wanted)
	assert.Equal(t, [][]string{{"1", "10"}, {"1", "2"}}, tokenIDs)
}

func TestGroupByWantedRejects(t *testing.T) {
	listings := map[string]domain.Listing{
		"seller-1": {Wants: []domain.WantEntry{{CID: "A"}}},
	}

	sels, err := ParseSelections(map[string]bool{"other-1-0": true})
	require.NoError(t, err)
	_, _, err = GroupByWanted("seller", sels, listings)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	sels, err = ParseSelections(map[string]bool{"seller-1-3": true})
	require.NoError(t, err)
	_, _, err = GroupByWanted("seller", sels, listings)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	sels, err = ParseSelections(map[string]bool{"seller-9-0": true})
	require.NoError(t, err)
	_, _, err = GroupByWanted("seller", sels, listings)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
}

func TestParseSelectionsInvalid(t *testing.T) {
	for _, sel := range []map[string]bool{
		{},
		{"a-1-0": false},
		{"a-1": true},
		{"a-1-x": true},
		{"a-1-0-2": true},
	} {
		_, err := ParseSelections(sel)
		assert.ErrorIs(t, err, domain.ErrInvalidParams, "%v", sel)
	}
}

func TestDispatchCreateListing(t *testing.T) {
	h := newHarness(t, true)

	hash, err := h.d.Dispatch(context.Background(), h.request(ActionCreateListing, CreateListingParams{
		SellerTokenIDs: []string{"2-7", "9"},
		Wants:          "QmWanted",
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	require.Len(t, h.contracts.packs, 1)
	p := h.contracts.packs[0]
	assert.Equal(t, chain.MethodCreateListing, p.method)
	assert.Equal(t, []*big.Int{big.NewInt(7), big.NewInt(9)}, p.args[0])
	assert.Equal(t, "QmWanted", p.args[1])
	assert.Equal(t, h.caller, p.args[2])

	sends := h.contracts.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, common.HexToAddress(managerAddr), sends[0].To)
	require.NotNil(t, sends[0].Nonce)
	assert.Equal(t, uint64(5), *sends[0].Nonce)

	require.Eventually(t, func() bool { return h.audit.count() == 1 }, time.Second, 5*time.Millisecond)
	rec := h.audit.records[0]
	assert.Equal(t, hash, rec.TxHash)
	assert.Equal(t, "CREATE_LISTING", rec.Action)
	assert.Equal(t, 1, rec.Attempt)
}

func TestDispatchRejections(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	req := h.request(ActionCreateListing, CreateListingParams{SellerTokenIDs: []string{"1"}, Wants: "Q"})
	req.Game = "unknown"
	_, err := h.d.Dispatch(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidGame)

	req = h.request(ActionCreateListing, CreateListingParams{SellerTokenIDs: []string{"1"}, Wants: "Q"})
	req.EthAddress = "0x00000000000000000000000000000000000000a1"
	_, err = h.d.Dispatch(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = h.d.Dispatch(ctx, h.request("MINT_EVERYTHING", map[string]string{}))
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	_, err = h.d.Dispatch(ctx, h.request(ActionCreateListing, CreateListingParams{Wants: "Q"}))
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	_, err = h.d.Dispatch(ctx, h.request(ActionCreateListing, CreateListingParams{SellerTokenIDs: []string{"1"}}))
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	_, err = h.d.Dispatch(ctx, h.request(ActionTransferPiece, TransferPieceParams{To: h.caller.Hex(), TokenID: "1"}))
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	_, err = h.d.Dispatch(ctx, h.request(ActionBuyPack, BuyPackParams{Tier: 1}))
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	_, err = h.d.Dispatch(ctx, h.request(ActionBuyPack, BuyPackParams{Tier: 7}))
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	_, err = h.d.Dispatch(ctx, h.request(ActionTradeExpiredPieces, TradeInParams{PieceIDs: []string{"1"}}))
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	_, err = h.d.Dispatch(ctx, h.request(ActionClaimPrize, ClaimPrizeParams{}))
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	_, err = h.d.Dispatch(ctx, h.request(ActionUnboxPack, UnboxPackParams{}))
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	assert.Empty(t, h.contracts.sent())
}

func TestDispatchDuplicateRequest(t *testing.T) {
	h := newHarness(t, true)
	req := h.request(ActionClaimPrize, ClaimPrizeParams{PuzzleID: "4"})

	_, err := h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	_, err = h.d.Dispatch(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Len(t, h.contracts.sent(), 1)
}

func TestDispatchFailureAllowsRetry(t *testing.T) {
	h := newHarness(t, true)
	h.contracts.sendErr = []error{errors.New("execution reverted: prize already claimed")}
	req := h.request(ActionClaimPrize, ClaimPrizeParams{PuzzleID: "4"})

	_, err := h.d.Dispatch(context.Background(), req)
	var cerr *ContractError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "execution reverted: prize already claimed", cerr.Message)
	assert.Equal(t, "Error sending metatransaction: execution reverted: prize already claimed", err.Error())
	assert.Len(t, h.contracts.broadcast(), 1, "reverts are not retried")

	_, err = h.d.Dispatch(context.Background(), req)
	assert.NoError(t, err)
}

func TestDispatchRetriesTransientSubmitErrors(t *testing.T) {
	h := newHarness(t, true)
	h.contracts.sendErr = []error{errors.New("connection reset by peer"), nil}

	hash, err := h.d.Dispatch(context.Background(), h.request(ActionClaimPrize, ClaimPrizeParams{PuzzleID: "4"}))
	require.NoError(t, err)
	assert.Len(t, h.contracts.sent(), 1, "signed once")
	out := h.contracts.broadcast()
	require.Len(t, out, 2)
	assert.Equal(t, out[0].Hash, out[1].Hash)
	assert.Equal(t, out[0].Hash.Hex(), hash)
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, true)
	boom := errors.New("503 service unavailable")
	h.contracts.sendErr = []error{boom, boom, boom, boom}

	_, err := h.d.Dispatch(context.Background(), h.request(ActionClaimPrize, ClaimPrizeParams{PuzzleID: "4"}))
	var cerr *ContractError
	require.ErrorAs(t, err, &cerr)
	assert.Len(t, h.contracts.broadcast(), 3)
	assert.Len(t, h.contracts.sent(), 1)
}

func TestUnminedTransactionIsReplacedWithSameNonce(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.d.Dispatch(context.Background(), h.request(ActionClaimPrize, ClaimPrizeParams{PuzzleID: "4"}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.contracts.sent()) == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	sends := h.contracts.sent()
	require.Len(t, sends, 3, "replacements stop at MaxAttempts")

	require.NotNil(t, sends[1].Nonce)
	require.NotNil(t, sends[2].Nonce)
	assert.Equal(t, uint64(5), *sends[1].Nonce)
	assert.Equal(t, uint64(5), *sends[2].Nonce)
	assert.Equal(t, sends[0].Data, sends[2].Data)
	assert.Equal(t, uint64(21000), sends[1].GasLimit)
	assert.Equal(t, big.NewInt(111), sends[1].MinGasPrice)
	assert.Equal(t, big.NewInt(123), sends[2].MinGasPrice)

	require.Eventually(t, func() bool { return h.audit.count() == 3 }, time.Second, 5*time.Millisecond)
}

type recordingAlerter struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingAlerter) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingAlerter) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

func TestAbandonedTransactionRaisesAlert(t *testing.T) {
	h := newHarness(t, false)
	alerts := &recordingAlerter{}
	h.d.alerts = alerts

	_, err := h.d.Dispatch(context.Background(), h.request(ActionClaimPrize, ClaimPrizeParams{PuzzleID: "4"}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(alerts.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	msg := alerts.messages()[0]
	assert.Equal(t, notify.EventDispatchFailed, msg.Event)
	assert.Contains(t, msg.Body, "nearcomm")
	assert.Contains(t, msg.Body, "nonce 5")
}

func TestReplacedTransactionMinedEarlierIsNotAbandoned(t *testing.T) {
	h := newHarness(t, false)
	h.contracts.settled = true
	alerts := &recordingAlerter{}
	h.d.alerts = alerts

	_, err := h.d.Dispatch(context.Background(), h.request(ActionClaimPrize, ClaimPrizeParams{PuzzleID: "4"}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.contracts.sent()) == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, alerts.messages())
}

func TestDispatchAlreadyKnownOnRetryIsAccepted(t *testing.T) {
	h := newHarness(t, true)
	h.contracts.sendErr = []error{errors.New("i/o timeout"), errors.New("already known")}

	hash, err := h.d.Dispatch(context.Background(), h.request(ActionClaimPrize, ClaimPrizeParams{PuzzleID: "4"}))
	require.NoError(t, err)
	assert.Len(t, h.contracts.sent(), 1)
	out := h.contracts.broadcast()
	require.Len(t, out, 2)
	assert.Equal(t, out[0].Hash.Hex(), hash)
}

func TestMinedTransactionIsNotReplaced(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.d.Dispatch(context.Background(), h.request(ActionClaimPrize, ClaimPrizeParams{PuzzleID: "4"}))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.contracts.sent(), 1)
}

func TestDispatchFulfillListing(t *testing.T) {
	h := newHarness(t, true)
	sellerAddr := "0x00000000000000000000000000000000000000a1"
	id := domain.ListingID(sellerAddr, "11")
	h.listings.listings[id] = domain.Listing{
		ID:    id,
		Type:  domain.ListingCreated,
		Wants: []domain.WantEntry{{CID: "QmA"}, {CID: "QmB"}},
	}
	h.tokens.tokens = []domain.Token{
		{TokenID: "2-20", Owner: h.caller.Hex(), CID: "QmB"},
		{TokenID: "2-21", Owner: h.caller.Hex(), CID: "QmZ"},
		{TokenID: "2-22", Owner: sellerAddr, CID: "QmA"},
	}
	ctx := context.Background()

	_, err := h.d.Dispatch(ctx, h.request(ActionFulfillListing, FulfillListingParams{
		SellerTokenID: "11", BuyerTokenID: "21", Seller: sellerAddr,
	}))
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed, "unwanted piece")

	_, err = h.d.Dispatch(ctx, h.request(ActionFulfillListing, FulfillListingParams{
		SellerTokenID: "11", BuyerTokenID: "22", Seller: sellerAddr,
	}))
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed, "not the caller's piece")

	_, err = h.d.Dispatch(ctx, h.request(ActionFulfillListing, FulfillListingParams{
		SellerTokenID: "12", BuyerTokenID: "20", Seller: sellerAddr,
	}))
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed, "missing listing")

	_, err = h.d.Dispatch(ctx, h.request(ActionFulfillListing, FulfillListingParams{
		SellerTokenID: "2-11", BuyerTokenID: "2-20", Seller: sellerAddr,
	}))
	require.NoError(t, err)

	p := h.contracts.packs[len(h.contracts.packs)-1]
	assert.Equal(t, chain.MethodFulfillListing, p.method)
	assert.Equal(t, []any{big.NewInt(11), big.NewInt(20), common.HexToAddress(sellerAddr), h.caller}, p.args)
}

func TestDispatchDeleteListingsFromSelections(t *testing.T) {
	h := newHarness(t, true)
	caller := h.caller.Hex()
	for _, tok := range []string{"1", "2"} {
		id := domain.ListingID(caller, tok)
		h.listings.listings[id] = domain.Listing{ID: id, Wants: []domain.WantEntry{{CID: "X"}, {CID: "Y"}}}
	}

	_, err := h.d.Dispatch(context.Background(), h.request(ActionDeleteListings, DeleteListingsParams{
		Selections: map[string]bool{
			caller + "-1-0": true,
			caller + "-2-0": true,
			caller + "-2-1": true,
		},
	}))
	require.NoError(t, err)

	require.Len(t, h.listings.asked, 1)
	assert.Len(t, h.listings.asked[0], 2)

	p := h.contracts.packs[0]
	assert.Equal(t, chain.MethodDeleteListings, p.method)
	assert.Equal(t, [][]*big.Int{{big.NewInt(1), big.NewInt(2)}, {big.NewInt(2)}}, p.args[0])
	assert.Equal(t, []string{"X", "Y"}, p.args[1])
}

func TestDispatchDeleteListingsExplicit(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.d.Dispatch(ctx, h.request(ActionDeleteListings, DeleteListingsParams{
		TokenIDs: [][]string{{"1"}, {"2"}},
		Wanted:   []string{"X"},
	}))
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	_, err = h.d.Dispatch(ctx, h.request(ActionDeleteListings, DeleteListingsParams{
		TokenIDs: [][]string{{"2-1", "2-3"}},
		Wanted:   []string{"X"},
	}))
	require.NoError(t, err)
	assert.Equal(t, [][]*big.Int{{big.NewInt(1), big.NewInt(3)}}, h.contracts.packs[0].args[0])
}

func TestDispatchTradeInDeletesTokens(t *testing.T) {
	g := testGame()
	g.TradeInEnabled = true
	h := newHarness(t, true, g)

	_, err := h.d.Dispatch(context.Background(), h.request(ActionTradeExpiredPieces, TradeInParams{
		PieceIDs:      []string{"1-4", "5"},
		PackTier:      0,
		PuzzleGroupID: "2",
	}))
	require.NoError(t, err)

	p := h.contracts.packs[0]
	assert.Equal(t, chain.MethodTradeInPiecesForPack, p.method)
	assert.Equal(t, []*big.Int{big.NewInt(4), big.NewInt(5)}, p.args[0])
	assert.Equal(t, []string{"1-4", "2-5"}, h.tokens.deleted)
}

func TestDispatchBuyPackDefaultsToActiveGroup(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.d.Dispatch(context.Background(), h.request(ActionBuyPack, BuyPackParams{Tier: 0}))
	require.NoError(t, err)
	assert.Equal(t, []any{big.NewInt(2), h.caller, big.NewInt(0)}, h.contracts.packs[0].args)
}

type mockBouncers struct{ mock.Mock }

func (m *mockBouncers) FetchActiveBouncer(ctx context.Context) (domain.Bouncer, int, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Bouncer), args.Int(1), args.Error(2)
}

func (m *mockBouncers) RotateBouncer(ctx context.Context, activeID, count int) (int, error) {
	args := m.Called(ctx, activeID, count)
	return args.Int(0), args.Error(1)
}

type flakyLock struct {
	held  int
	calls int
}

func (l *flakyLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.calls++
	if l.calls <= l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func TestRelayerUsesAndRotatesActiveBouncer(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	const encKey = "0123456789abcdef"
	stored, err := crypto.EncryptBouncerKey("0x"+common.Bytes2Hex(ethcrypto.FromECDSA(key)), encKey)
	require.NoError(t, err)

	bouncers := &mockBouncers{}
	bouncers.On("FetchActiveBouncer", mock.Anything).Return(domain.Bouncer{ID: 3, PrivateKey: stored, Active: true}, 3, nil)
	bouncers.On("RotateBouncer", mock.Anything, 3, 3).Return(1, nil)
	lock := &flakyLock{held: 2}

	r := NewRelayer(bouncers, lock, encKey, nil, testLogger())
	s, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), s.Address)
	assert.Equal(t, 3, s.BouncerID)
	assert.Equal(t, 3, lock.calls)
	bouncers.AssertExpectations(t)
}

func TestRelayerFallsBackWithoutActiveBouncer(t *testing.T) {
	fallback, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	bouncers := &mockBouncers{}
	bouncers.On("FetchActiveBouncer", mock.Anything).Return(domain.Bouncer{}, 0, domain.ErrNotFound)

	r := NewRelayer(bouncers, nil, "0123456789abcdef", fallback, testLogger())
	s, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(fallback.PublicKey), s.Address)
	bouncers.AssertNotCalled(t, "RotateBouncer", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelayerLockContention(t *testing.T) {
	fallback, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	r := NewRelayer(&mockBouncers{}, &flakyLock{held: 100}, "", fallback, testLogger())

	_, err = r.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestDedupWindow(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	assert.False(t, d.Seen("k"))
	assert.True(t, d.Seen("k"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Empty(t, d.seen)
	assert.False(t, d.Seen("k"))

	d.Forget("k")
	assert.False(t, d.Seen("k"))

	assert.False(t, NewDedup(0).Seen("k"))
}

func TestRequestKeyIgnoresAddressCase(t *testing.T) {
	a := Request{EthAddress: "0xAbC", Action: ActionClaimPrize, Params: json.RawMessage(`{"puzzleId":"1"}`)}
	b := a
	b.EthAddress = "0xabc"
	assert.Equal(t, requestKey(a), requestKey(b))

	b.Params = json.RawMessage(`{"puzzleId":"2"}`)
	assert.NotEqual(t, requestKey(a), requestKey(b))
}
