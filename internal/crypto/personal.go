package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LoginSigningMessage is the fixed message players sign to prove wallet
// ownership. It authenticates every metatransaction.
const LoginSigningMessage = "Hi there from Puzzlr!\n" +
	"To prevent pesky hackers from stealing your puzzle winnings, we require you to sign this message to prove ownership of your account. " +
	"This will not cost you any money."

// RecoverPersonalSigner returns the address that produced sigHex over message
// using personal_sign (EIP-191). Both v encodings, {0,1} and {27,28}, are
// accepted.
func RecoverPersonalSigner(message, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto: signature must be %d bytes, got %d", ethcrypto.SignatureLength, len(sig))
	}

	sig = append([]byte(nil), sig...)
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	if sig[ethcrypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("crypto: invalid recovery id %d", sig[ethcrypto.RecoveryIDOffset])
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyLogin reports whether sigHex is address's signature of
// LoginSigningMessage. Addresses compare case-insensitively.
func VerifyLogin(address, sigHex string) bool {
	signer, err := RecoverPersonalSigner(LoginSigningMessage, sigHex)
	if err != nil {
		return false
	}
	return strings.EqualFold(signer.Hex(), strings.TrimSpace(address))
}

// SignPersonal signs message with key using personal_sign, returning a
// 0x-prefixed signature with v in {27,28}.
func SignPersonal(message string, key *ecdsa.PrivateKey) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign message: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
