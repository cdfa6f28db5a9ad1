// Package chain is the contract layer adapter: it packs Puzzle Manager
// calls, signs them with a relayer key and submits them over JSON-RPC.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of ethclient.Client used by the contract layer.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return c, nil
}

// Client submits contract calls through a Backend.
type Client struct {
	backend       Backend
	chainID       *big.Int
	signer        types.Signer
	gasMultiplier *big.Int
	manager       abi.ABI
	pieceFactory  abi.ABI
}

// NewClient creates a contract client for chainID. Suggested gas prices are
// multiplied by gasMultiplier before signing.
func NewClient(backend Backend, chainID int64, gasMultiplier int64) (*Client, error) {
	manager, err := abi.JSON(strings.NewReader(managerABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse manager abi: %w", err)
	}
	factory, err := abi.JSON(strings.NewReader(pieceFactoryABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse piece factory abi: %w", err)
	}
	if gasMultiplier < 1 {
		gasMultiplier = 1
	}
	id := big.NewInt(chainID)
	return &Client{
		backend:       backend,
		chainID:       id,
		signer:        types.LatestSignerForChainID(id),
		gasMultiplier: big.NewInt(gasMultiplier),
		manager:       manager,
		pieceFactory:  factory,
	}, nil
}

// PackManager ABI-encodes a Puzzle Manager call.
func (c *Client) PackManager(method string, args ...any) ([]byte, error) {
	data, err := c.manager.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	return data, nil
}

// TxRequest describes one contract write.
type TxRequest struct {
	To   common.Address
	Data []byte
	// Nonce pins the transaction nonce; nil selects the pending nonce.
	Nonce *uint64
	// GasLimit skips estimation when non-zero.
	GasLimit uint64
	// MinGasPrice is a floor applied after the multiplier. Replacements set
	// it above the price of the transaction they replace.
	MinGasPrice *big.Int
}

// SentTx is a signed and submitted transaction.
type SentTx struct {
	Hash     common.Hash
	From     common.Address
	To       common.Address
	Data     []byte
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int

	signed *types.Transaction
}

// Send signs req with key and submits it. It returns as soon as the node
// accepts the transaction.
func (c *Client) Send(ctx context.Context, key *ecdsa.PrivateKey, req TxRequest) (SentTx, error) {
	tx, err := c.Sign(ctx, key, req)
	if err != nil {
		return SentTx{}, err
	}
	if err := c.Broadcast(ctx, tx); err != nil {
		return SentTx{}, err
	}
	return tx, nil
}

// PendingNonce returns the next nonce of account, counting pooled
// transactions.
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	n, err := c.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce: %w", err)
	}
	return n, nil
}

// Settled reports whether some transaction from account with nonce has been
// mined, whichever of its replacements that was.
func (c *Client) Settled(ctx context.Context, account common.Address, nonce uint64) (bool, error) {
	n, err := c.backend.NonceAt(ctx, account, nil)
	if err != nil {
		return false, fmt.Errorf("chain: nonce: %w", err)
	}
	return n > nonce, nil
}

// Sign prices and signs req without submitting it. The result can be
// broadcast any number of times; every broadcast carries the same hash.
func (c *Client) Sign(ctx context.Context, key *ecdsa.PrivateKey, req TxRequest) (SentTx, error) {
	from := ethcrypto.PubkeyToAddress(key.PublicKey)

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		n, err := c.PendingNonce(ctx, from)
		if err != nil {
			return SentTx{}, err
		}
		nonce = n
	}

	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return SentTx{}, err
	}
	if req.MinGasPrice != nil && gasPrice.Cmp(req.MinGasPrice) < 0 {
		gasPrice = new(big.Int).Set(req.MinGasPrice)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		to := req.To
		gasLimit, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       &to,
			GasPrice: gasPrice,
			Data:     req.Data,
		})
		if err != nil {
			return SentTx{}, fmt.Errorf("chain: estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &req.To,
		Data:     req.Data,
	})
	signed, err := types.SignTx(tx, c.signer, key)
	if err != nil {
		return SentTx{}, fmt.Errorf("chain: sign tx: %w", err)
	}

	return SentTx{
		Hash:     signed.Hash(),
		From:     from,
		To:       req.To,
		Data:     req.Data,
		Nonce:    nonce,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		signed:   signed,
	}, nil
}

// Broadcast submits a transaction returned by Sign.
func (c *Client) Broadcast(ctx context.Context, tx SentTx) error {
	if tx.signed == nil {
		return fmt.Errorf("chain: broadcast %s: transaction was not signed by this client", tx.Hash.Hex())
	}
	if err := c.backend.SendTransaction(ctx, tx.signed); err != nil {
		return fmt.Errorf("chain: send tx: %w", err)
	}
	return nil
}

// GasPrice returns the node's suggested gas price scaled by the multiplier.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	suggested, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest gas price: %w", err)
	}
	return new(big.Int).Mul(suggested, c.gasMultiplier), nil
}

// Mined reports whether hash has a receipt.
func (c *Client) Mined(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
	}
	return receipt != nil && receipt.BlockNumber != nil, nil
}

// TokenCID reads the piece CID of tokenID from the piece factory.
func (c *Client) TokenCID(ctx context.Context, factory common.Address, tokenID *big.Int) (string, error) {
	data, err := c.pieceFactory.Pack("tokenURIWithoutPrefix", tokenID)
	if err != nil {
		return "", fmt.Errorf("chain: pack tokenURIWithoutPrefix: %w", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("chain: call tokenURIWithoutPrefix(%s): %w", tokenID, err)
	}
	values, err := c.pieceFactory.Unpack("tokenURIWithoutPrefix", out)
	if err != nil {
		return "", fmt.Errorf("chain: unpack tokenURIWithoutPrefix: %w", err)
	}
	if len(values) != 1 {
		return "", fmt.Errorf("chain: tokenURIWithoutPrefix returned %d values", len(values))
	}
	cid, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("chain: tokenURIWithoutPrefix returned %T", values[0])
	}
	return cid, nil
}
