package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// revertCode is the JSON-RPC error code nodes use for execution reverts.
const revertCode = 3

// ProviderMessage extracts the user-facing reason from an RPC failure. HTTP
// failures carry a JSON-RPC body whose error.message is the reason; other
// RPC errors already hold it.
func ProviderMessage(err error) string {
	if err == nil {
		return ""
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && len(httpErr.Body) > 0 {
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(httpErr.Body, &body) == nil && body.Error.Message != "" {
			return body.Error.Message
		}
		return httpErr.Status
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		msg := rpcErr.Error()
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			if data, ok := dataErr.ErrorData().(string); ok && data != "" && !strings.Contains(msg, data) {
				msg += ": " + data
			}
		}
		return msg
	}

	return err.Error()
}

// IsRevert reports whether err is a contract-level rejection that will fail
// the same way if resubmitted.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertCode {
		return true
	}
	msg := strings.ToLower(ProviderMessage(err))
	for _, s := range []string{"execution reverted", "insufficient funds", "invalid sender", "nonce too low"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsNonceTooLow reports whether the node rejected a transaction because its
// nonce was already used, which for a replacement means the original was
// mined.
func IsNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(ProviderMessage(err)), "nonce too low")
}

// IsAlreadyKnown reports whether the node already holds the exact
// transaction being submitted.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(ProviderMessage(err))
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// ParseUint parses a decimal or 0x-prefixed token id.
func ParseUint(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("chain: invalid uint %q", s)
	}
	return n, nil
}

// ParseUints parses every element of ss with ParseUint.
func ParseUints(ss []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(ss))
	for i, s := range ss {
		n, err := ParseUint(s)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// ParseBytes32 parses a 0x-prefixed 32-byte value such as a VRF request id.
// Decimal input is accepted and left-padded.
func ParseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b := common.FromHex(s)
		if len(b) == 0 || len(b) > 32 {
			return out, fmt.Errorf("chain: invalid bytes32 %q", s)
		}
		copy(out[32-len(b):], b)
		return out, nil
	}
	n, err := ParseUint(s)
	if err != nil {
		return out, err
	}
	if n.BitLen() > 256 {
		return out, fmt.Errorf("chain: bytes32 overflow %q", s)
	}
	n.FillBytes(out[:])
	return out, nil
}
