// Package dispatch relays signed marketplace mutations to the Puzzle Manager
// contract. Each request is authenticated by a wallet signature, checked
// against the game registry and the indexed chain state, and submitted as
// exactly one contract write from a relayer wallet.
package dispatch

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/puzzlr/internal/crypto"
	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/metrics"
	"github.com/alanyoungcy/puzzlr/internal/notify"
	"github.com/alanyoungcy/puzzlr/internal/platform/chain"
)

// ContractWriter packs and submits Puzzle Manager calls.
type ContractWriter interface {
	PackManager(method string, args ...any) ([]byte, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	Sign(ctx context.Context, key *ecdsa.PrivateKey, req chain.TxRequest) (chain.SentTx, error)
	Broadcast(ctx context.Context, tx chain.SentTx) error
	Send(ctx context.Context, key *ecdsa.PrivateKey, req chain.TxRequest) (chain.SentTx, error)
	Mined(ctx context.Context, hash common.Hash) (bool, error)
	Settled(ctx context.Context, account common.Address, nonce uint64) (bool, error)
}

// ListingLookup loads indexed listings by composite id.
type ListingLookup interface {
	FetchListingsByID(ctx context.Context, ids []string) (map[string]domain.Listing, error)
}

// TokenStore is the metadata-store view of owned pieces.
type TokenStore interface {
	FetchTokensByTokenIDs(ctx context.Context, tokenIDs []string) ([]domain.Token, error)
	DeleteTokens(ctx context.Context, tokenIDs []string) (int, error)
}

// ContractError is a rejected contract write. Message is the reason reported
// by the provider and is safe to show to the caller.
type ContractError struct {
	Action  Action
	Message string
	Err     error
}

func (e *ContractError) Error() string {
	return "Error sending metatransaction: " + e.Message
}

func (e *ContractError) Unwrap() error { return e.Err }

// call is a prepared contract write.
type call struct {
	method string
	args   []any
	// after runs once the write has been accepted by the node.
	after func(ctx context.Context)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAudit records every submission in store.
func WithAudit(store domain.AuditStore) Option {
	return func(d *Dispatcher) { d.audit = store }
}

// WithSignalBus appends every submission to the dispatch stream.
func WithSignalBus(bus domain.SignalBus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Dispatcher) { d.policy = p.normalized() }
}

// WithDedupTTL sets the duplicate request window. Zero disables the guard.
func WithDedupTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.dedup = NewDedup(ttl) }
}

// Alerter notifies operators.
type Alerter interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// WithAlerts reports abandoned transactions to a.
func WithAlerts(a Alerter) Option {
	return func(d *Dispatcher) { d.alerts = a }
}

// WithMetrics records dispatch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher validates metatransactions and relays them on chain.
type Dispatcher struct {
	games     map[string]domain.Game
	contracts ContractWriter
	listings  ListingLookup
	tokens    TokenStore
	relayer   *Relayer
	audit     domain.AuditStore
	bus       domain.SignalBus
	policy    RetryPolicy
	dedup     *Dedup
	metrics   *metrics.Metrics
	alerts    Alerter
	logger    *slog.Logger

	// ctx outlives individual requests; replacement watchers run on it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for the given games. Call Close to stop
// the background watchers.
func NewDispatcher(
	games []domain.Game,
	contracts ContractWriter,
	listings ListingLookup,
	tokens TokenStore,
	relayer *Relayer,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		games:     make(map[string]domain.Game, len(games)),
		contracts: contracts,
		listings:  listings,
		tokens:    tokens,
		relayer:   relayer,
		policy:    DefaultRetryPolicy(),
		dedup:     NewDedup(30 * time.Second),
		logger:    logger.With(slog.String("component", "dispatcher")),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, g := range games {
		d.games[g.Path] = g
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(1)
	go d.cleanupLoop()
	return d
}

// Close stops the replacement watchers and waits for them to exit.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// Dispatch validates req and submits its contract write. It returns the
// hash of the pending transaction without waiting for it to be mined.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	hash, err := d.dispatch(ctx, req)
	outcome := "sent"
	var cerr *ContractError
	switch {
	case err == nil:
	case errors.As(err, &cerr):
		outcome = "failed"
	default:
		outcome = "rejected"
	}
	d.metrics.ObserveDispatch(string(req.Action), outcome)
	return hash, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (string, error) {
	game, ok := d.games[req.Game]
	if !ok {
		return "", fmt.Errorf("dispatch: %q: %w", req.Game, domain.ErrInvalidGame)
	}
	caller, err := parseAddress("ethAddress", req.EthAddress)
	if err != nil {
		return "", fmt.Errorf("dispatch: %w", err)
	}
	if !crypto.VerifyLogin(req.EthAddress, req.Signature) {
		return "", fmt.Errorf("dispatch: %s: %w", caller.Hex(), domain.ErrInvalidSignature)
	}

	key := requestKey(req)
	if d.dedup.Seen(key) {
		return "", fmt.Errorf("dispatch: %s %s: %w", caller.Hex(), req.Action, domain.ErrDuplicateRequest)
	}

	hash, err := d.submit(ctx, game, caller, req)
	if err != nil {
		d.dedup.Forget(key)
		return "", err
	}
	return hash, nil
}

func (d *Dispatcher) submit(ctx context.Context, game domain.Game, caller common.Address, req Request) (string, error) {
	c, err := d.prepare(ctx, game, caller, req)
	if err != nil {
		return "", fmt.Errorf("dispatch: %s: %w", req.Action, err)
	}
	data, err := d.contracts.PackManager(c.method, c.args...)
	if err != nil {
		return "", fmt.Errorf("dispatch: %s: %v: %w", req.Action, err, domain.ErrInvalidParams)
	}

	signer, err := d.relayer.Next(ctx)
	if err != nil {
		return "", err
	}

	txReq := chain.TxRequest{To: common.HexToAddress(game.ManagerAddress), Data: data}
	release := d.relayer.hold(signer.Address)
	sent, err := d.send(ctx, signer, txReq, req.Action)
	release()
	if err != nil {
		return "", &ContractError{Action: req.Action, Message: chain.ProviderMessage(err), Err: err}
	}

	d.logger.Info("metatransaction sent",
		slog.String("game", game.Path),
		slog.String("action", string(req.Action)),
		slog.String("caller", caller.Hex()),
		slog.String("relayer", sent.From.Hex()),
		slog.String("tx_hash", sent.Hash.Hex()),
		slog.Uint64("nonce", sent.Nonce),
	)
	d.record(ctx, game, req.Action, caller, sent, 1)

	if c.after != nil {
		c.after(ctx)
	}

	d.wg.Add(1)
	go d.watch(game, req.Action, caller, signer, sent)

	return sent.Hash.Hex(), nil
}

// prepare checks the action's preconditions and builds its contract call.
func (d *Dispatcher) prepare(ctx context.Context, game domain.Game, caller common.Address, req Request) (call, error) {
	switch req.Action {
	case ActionBuyPack:
		return d.prepareBuyPack(game, caller, req.Params)
	case ActionUnboxPack:
		return prepareUnboxPack(req.Params)
	case ActionCreateListing:
		return prepareCreateListing(caller, req.Params)
	case ActionTransferPiece:
		return prepareTransferPiece(caller, req.Params)
	case ActionFulfillListing:
		return d.prepareFulfillListing(ctx, game, caller, req.Params)
	case ActionDeleteListings:
		return d.prepareDeleteListings(ctx, caller, req.Params)
	case ActionClaimPrize:
		return prepareClaimPrize(caller, req.Params)
	case ActionTradeExpiredPieces:
		return d.prepareTradeIn(game, caller, req.Params)
	default:
		return call{}, fmt.Errorf("%q: %w", req.Action, domain.ErrInvalidAction)
	}
}

func (d *Dispatcher) prepareBuyPack(game domain.Game, caller common.Address, raw json.RawMessage) (call, error) {
	var p BuyPackParams
	if err := decodeParams(raw, &p); err != nil {
		return call{}, err
	}
	if !game.PackPurchasesEnabled {
		return call{}, precondition("pack purchases are disabled for %s", game.Path)
	}
	tier, ok := game.Pack(p.Tier)
	if !ok {
		return call{}, precondition("pack tier %d does not exist", p.Tier)
	}
	if tier.Price != 0 {
		return call{}, precondition("pack tier %d is not free", p.Tier)
	}
	group, err := groupID(p.PuzzleGroupID, game)
	if err != nil {
		return call{}, err
	}
	return call{
		method: chain.MethodBuyPackForTier,
		args:   []any{group, caller, big.NewInt(int64(p.Tier))},
	}, nil
}

func prepareUnboxPack(raw json.RawMessage) (call, error) {
	var p UnboxPackParams
	if err := decodeParams(raw, &p); err != nil {
		return call{}, err
	}
	if p.RequestID == "" {
		return call{}, invalid("requestId is required")
	}
	id, err := chain.ParseBytes32(p.RequestID)
	if err != nil {
		return call{}, invalid("requestId: %v", err)
	}
	return call{method: chain.MethodUnboxPack, args: []any{id}}, nil
}

func prepareCreateListing(caller common.Address, raw json.RawMessage) (call, error) {
	var p CreateListingParams
	if err := decodeParams(raw, &p); err != nil {
		return call{}, err
	}
	if len(p.SellerTokenIDs) == 0 {
		return call{}, invalid("at least one sellerTokenId is required")
	}
	if strings.TrimSpace(p.Wants) == "" {
		return call{}, invalid("wants is required")
	}
	ids, err := chain.ParseUints(chainIDs(p.SellerTokenIDs))
	if err != nil {
		return call{}, invalid("sellerTokenIds: %v", err)
	}
	return call{
		method: chain.MethodCreateListing,
		args:   []any{ids, p.Wants, caller},
	}, nil
}

func prepareTransferPiece(caller common.Address, raw json.RawMessage) (call, error) {
	var p TransferPieceParams
	if err := decodeParams(raw, &p); err != nil {
		return call{}, err
	}
	to, err := parseAddress("to", p.To)
	if err != nil {
		return call{}, err
	}
	if to == caller {
		return call{}, invalid("cannot transfer a piece to yourself")
	}
	if p.TokenID == "" {
		return call{}, invalid("tokenId is required")
	}
	id, err := chain.ParseUint(domain.ChainTokenID(p.TokenID))
	if err != nil {
		return call{}, invalid("tokenId: %v", err)
	}
	return call{
		method: chain.MethodTransferPiece,
		args:   []any{caller, to, id},
	}, nil
}

func (d *Dispatcher) prepareFulfillListing(ctx context.Context, game domain.Game, caller common.Address, raw json.RawMessage) (call, error) {
	var p FulfillListingParams
	if err := decodeParams(raw, &p); err != nil {
		return call{}, err
	}
	seller, err := parseAddress("seller", p.Seller)
	if err != nil {
		return call{}, err
	}
	if p.SellerTokenID == "" || p.BuyerTokenID == "" {
		return call{}, invalid("sellerTokenId and buyerTokenId are required")
	}
	sellerTokenID := domain.ChainTokenID(p.SellerTokenID)
	buyerTokenID := domain.ChainTokenID(p.BuyerTokenID)

	listingID := domain.ListingID(seller.Hex(), sellerTokenID)
	found, err := d.listings.FetchListingsByID(ctx, []string{listingID})
	if err != nil {
		return call{}, fmt.Errorf("load listing: %w", err)
	}
	listing, ok := found[listingID]
	if !ok {
		return call{}, precondition("listing %s not found", listingID)
	}
	if listing.Type != "" && listing.Type != domain.ListingCreated {
		return call{}, precondition("listing %s is %s", listingID, listing.Type)
	}

	storeID := storeTokenID(game, p.BuyerTokenID)
	tokens, err := d.tokens.FetchTokensByTokenIDs(ctx, []string{storeID})
	if err != nil {
		return call{}, fmt.Errorf("load buyer token: %w", err)
	}
	var buyer *domain.Token
	for i := range tokens {
		if tokens[i].TokenID == storeID {
			buyer = &tokens[i]
			break
		}
	}
	if buyer == nil || !strings.EqualFold(buyer.Owner, caller.Hex()) {
		return call{}, precondition("token %s is not owned by %s", storeID, caller.Hex())
	}
	wanted := false
	for _, cid := range listing.WantCIDs() {
		if cid == buyer.CID {
			wanted = true
			break
		}
	}
	if !wanted {
		return call{}, precondition("listing %s does not want piece %s", listingID, buyer.CID)
	}

	sid, err := chain.ParseUint(sellerTokenID)
	if err != nil {
		return call{}, invalid("sellerTokenId: %v", err)
	}
	bid, err := chain.ParseUint(buyerTokenID)
	if err != nil {
		return call{}, invalid("buyerTokenId: %v", err)
	}
	return call{
		method: chain.MethodFulfillListing,
		args:   []any{sid, bid, seller, caller},
	}, nil
}

func (d *Dispatcher) prepareDeleteListings(ctx context.Context, caller common.Address, raw json.RawMessage) (call, error) {
	var p DeleteListingsParams
	if err := decodeParams(raw, &p); err != nil {
		return call{}, err
	}

	tokenIDs, wanted := p.TokenIDs, p.Wanted
	if len(p.Selections) > 0 {
		sels, err := ParseSelections(p.Selections)
		if err != nil {
			return call{}, err
		}
		ids := make([]string, 0, len(sels))
		seen := make(map[string]bool, len(sels))
		for _, s := range sels {
			if !seen[s.ListingID()] {
				seen[s.ListingID()] = true
				ids = append(ids, s.ListingID())
			}
		}
		listings, err := d.listings.FetchListingsByID(ctx, ids)
		if err != nil {
			return call{}, fmt.Errorf("load listings: %w", err)
		}
		tokenIDs, wanted, err = GroupByWanted(caller.Hex(), sels, listings)
		if err != nil {
			return call{}, err
		}
	}

	if len(wanted) == 0 {
		return call{}, invalid("nothing to delete")
	}
	if len(tokenIDs) != len(wanted) {
		return call{}, invalid("tokenIds has %d groups for %d wanted pieces", len(tokenIDs), len(wanted))
	}
	batches := make([][]*big.Int, len(tokenIDs))
	for i, group := range tokenIDs {
		if len(group) == 0 || wanted[i] == "" {
			return call{}, invalid("empty delete group %d", i)
		}
		ids, err := chain.ParseUints(chainIDs(group))
		if err != nil {
			return call{}, invalid("tokenIds[%d]: %v", i, err)
		}
		batches[i] = ids
	}
	return call{
		method: chain.MethodDeleteListings,
		args:   []any{batches, wanted, caller},
	}, nil
}

func prepareClaimPrize(caller common.Address, raw json.RawMessage) (call, error) {
	var p ClaimPrizeParams
	if err := decodeParams(raw, &p); err != nil {
		return call{}, err
	}
	if p.PuzzleID == "" {
		return call{}, invalid("puzzleId is required")
	}
	id, err := chain.ParseUint(p.PuzzleID)
	if err != nil {
		return call{}, invalid("puzzleId: %v", err)
	}
	return call{method: chain.MethodClaimPrize, args: []any{caller, id}}, nil
}

func (d *Dispatcher) prepareTradeIn(game domain.Game, caller common.Address, raw json.RawMessage) (call, error) {
	var p TradeInParams
	if err := decodeParams(raw, &p); err != nil {
		return call{}, err
	}
	if !game.TradeInEnabled {
		return call{}, precondition("trade-in is disabled for %s", game.Path)
	}
	if len(p.PieceIDs) == 0 {
		return call{}, invalid("at least one pieceId is required")
	}
	if _, ok := game.Pack(p.PackTier); !ok {
		return call{}, precondition("pack tier %d does not exist", p.PackTier)
	}
	group, err := groupID(p.PuzzleGroupID, game)
	if err != nil {
		return call{}, err
	}
	ids, err := chain.ParseUints(chainIDs(p.PieceIDs))
	if err != nil {
		return call{}, invalid("pieceIds: %v", err)
	}

	storeIDs := make([]string, len(p.PieceIDs))
	for i, id := range p.PieceIDs {
		storeIDs[i] = storeTokenID(game, id)
	}
	return call{
		method: chain.MethodTradeInPiecesForPack,
		args:   []any{ids, big.NewInt(int64(p.PackTier)), group, caller},
		after: func(ctx context.Context) {
			// The write is already pending; a stale mirror is corrected
			// by the transfer poller.
			n, err := d.tokens.DeleteTokens(ctx, storeIDs)
			if err != nil {
				d.logger.Error("delete traded-in tokens",
					slog.Int("count", len(storeIDs)),
					slog.String("error", err.Error()),
				)
				return
			}
			d.logger.Debug("deleted traded-in tokens", slog.Int("count", n))
		},
	}, nil
}

// send signs txReq once at the signer's pending nonce and broadcasts that
// transaction until the node accepts it. A retry after a lost response
// rebroadcasts the same bytes, so the request costs at most one nonce.
func (d *Dispatcher) send(ctx context.Context, signer Signer, txReq chain.TxRequest, action Action) (chain.SentTx, error) {
	var (
		signed     *chain.SentTx
		broadcasts int
	)
	return d.policy.submit(ctx, func() (chain.SentTx, error) {
		if signed == nil {
			nonce, err := d.contracts.PendingNonce(ctx, signer.Address)
			if err != nil {
				return chain.SentTx{}, err
			}
			txReq.Nonce = &nonce
			tx, err := d.contracts.Sign(ctx, signer.Key, txReq)
			if err != nil {
				return chain.SentTx{}, err
			}
			signed = &tx
		}
		broadcasts++
		err := d.contracts.Broadcast(ctx, *signed)
		switch {
		case err == nil, chain.IsAlreadyKnown(err):
			return *signed, nil
		case broadcasts > 1 && chain.IsNonceTooLow(err):
			// An earlier broadcast was accepted and has since been mined.
			return *signed, nil
		default:
			return chain.SentTx{}, err
		}
	}, func(err error, wait time.Duration) {
		d.logger.Warn("metatransaction submit failed, retrying",
			slog.String("action", string(action)),
			slog.String("relayer", signer.Address.Hex()),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})
}

// watch replaces sent with the same nonce at a higher price until it is
// mined or the policy's attempts run out.
func (d *Dispatcher) watch(game domain.Game, action Action, caller common.Address, signer Signer, sent chain.SentTx) {
	defer d.wg.Done()

	logger := d.logger.With(
		slog.String("action", string(action)),
		slog.String("relayer", signer.Address.Hex()),
		slog.Uint64("nonce", sent.Nonce),
	)
	b := d.policy.confirmBackOff()
	for attempt := 1; ; {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if d.settled(signer, sent) {
				d.metrics.ObserveResubmit(string(action), "mined")
				return
			}
			logger.Warn("metatransaction not mined, giving up",
				slog.String("tx_hash", sent.Hash.Hex()),
				slog.Int("attempts", attempt),
			)
			d.metrics.ObserveResubmit(string(action), "abandoned")
			d.alertAbandoned(game, action, signer, sent)
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		mined, err := d.contracts.Mined(d.ctx, sent.Hash)
		if err != nil {
			logger.Warn("receipt lookup failed",
				slog.String("tx_hash", sent.Hash.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if mined {
			d.metrics.ObserveResubmit(string(action), "mined")
			return
		}
		if attempt >= d.policy.MaxAttempts {
			continue
		}

		nonce := sent.Nonce
		release := d.relayer.hold(signer.Address)
		next, err := d.contracts.Send(d.ctx, signer.Key, chain.TxRequest{
			To:          sent.To,
			Data:        sent.Data,
			Nonce:       &nonce,
			GasLimit:    sent.GasLimit,
			MinGasPrice: bumpGasPrice(sent.GasPrice),
		})
		release()
		attempt++
		if chain.IsNonceTooLow(err) {
			d.metrics.ObserveResubmit(string(action), "mined")
			return
		}
		if err != nil {
			logger.Warn("metatransaction replacement failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			d.metrics.ObserveResubmit(string(action), "error")
			continue
		}

		logger.Info("metatransaction replaced",
			slog.String("old_tx_hash", sent.Hash.Hex()),
			slog.String("tx_hash", next.Hash.Hex()),
			slog.Int("attempt", attempt),
		)
		d.metrics.ObserveResubmit(string(action), "replaced")
		sent = next
		d.record(d.ctx, game, action, caller, sent, attempt)
	}
}

// settled reports whether any transaction at sent's nonce was mined. The
// receipt checks only follow the latest replacement.
func (d *Dispatcher) settled(signer Signer, sent chain.SentTx) bool {
	ok, err := d.contracts.Settled(d.ctx, signer.Address, sent.Nonce)
	if err != nil {
		d.logger.Warn("nonce lookup failed",
			slog.String("relayer", signer.Address.Hex()),
			slog.Uint64("nonce", sent.Nonce),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

func (d *Dispatcher) alertAbandoned(game domain.Game, action Action, signer Signer, sent chain.SentTx) {
	if d.alerts == nil {
		return
	}
	msg := notify.Message{
		Event: notify.EventDispatchFailed,
		Title: fmt.Sprintf("%s not mined", action),
		Body: fmt.Sprintf("game %s, relayer %s, nonce %d, tx %s",
			game.Path, signer.Address.Hex(), sent.Nonce, sent.Hash.Hex()),
	}
	if err := d.alerts.Notify(d.ctx, msg); err != nil {
		d.logger.Warn("abandoned transaction alert failed", slog.String("error", err.Error()))
	}
}

// record writes the audit row and the stream entry for one submission.
// Failures are logged; the transaction is already pending.
func (d *Dispatcher) record(ctx context.Context, game domain.Game, action Action, caller common.Address, sent chain.SentTx, attempt int) {
	rec := domain.DispatchRecord{
		TxHash:    sent.Hash.Hex(),
		Game:      game.Path,
		Action:    string(action),
		Caller:    strings.ToLower(caller.Hex()),
		Relayer:   strings.ToLower(sent.From.Hex()),
		Nonce:     sent.Nonce,
		Attempt:   attempt,
		CreatedAt: time.Now().UTC(),
	}
	if d.audit != nil {
		if err := d.audit.LogDispatch(ctx, rec); err != nil {
			d.logger.Error("audit dispatch",
				slog.String("tx_hash", rec.TxHash),
				slog.String("error", err.Error()),
			)
		}
	}
	if d.bus != nil {
		payload, _ := json.Marshal(dispatchEvent{
			TxHash:  rec.TxHash,
			Game:    rec.Game,
			Action:  rec.Action,
			Caller:  rec.Caller,
			Relayer: rec.Relayer,
			Nonce:   rec.Nonce,
			Attempt: rec.Attempt,
			At:      rec.CreatedAt,
		})
		if err := d.bus.StreamAppend(ctx, domain.StreamDispatches, payload); err != nil {
			d.logger.Error("stream dispatch",
				slog.String("tx_hash", rec.TxHash),
				slog.String("error", err.Error()),
			)
		}
	}
}

type dispatchEvent struct {
	TxHash  string    `json:"txHash"`
	Game    string    `json:"game"`
	Action  string    `json:"action"`
	Caller  string    `json:"caller"`
	Relayer string    `json:"relayer"`
	Nonce   uint64    `json:"nonce"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

func (d *Dispatcher) cleanupLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.dedup.Cleanup()
		}
	}
}

// bumpGasPrice returns the minimum price a node accepts for a replacement.
func bumpGasPrice(prev *big.Int) *big.Int {
	if prev == nil {
		return nil
	}
	out := new(big.Int).Mul(prev, big.NewInt(11))
	out.Quo(out, big.NewInt(10))
	return out.Add(out, big.NewInt(1))
}

// groupID parses a puzzle group id, defaulting to the game's active group.
func groupID(s string, game domain.Game) (*big.Int, error) {
	if s == "" {
		return big.NewInt(int64(game.ActivePuzzleGroup)), nil
	}
	n, err := chain.ParseUint(s)
	if err != nil {
		return nil, invalid("puzzleGroupId: %v", err)
	}
	return n, nil
}

// storeTokenID returns the metadata store key for id, adding the active
// group prefix to bare chain ids.
func storeTokenID(game domain.Game, id string) string {
	if strings.Contains(id, "-") {
		return id
	}
	return domain.StoreTokenID(game.ActivePuzzleGroup, id)
}
