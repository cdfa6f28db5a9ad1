package crypto_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/puzzlr/internal/crypto"
)

func TestVerifyLogin(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	sig, err := crypto.SignPersonal(crypto.LoginSigningMessage, key)
	require.NoError(t, err)

	assert.True(t, crypto.VerifyLogin(addr, sig))
	assert.True(t, crypto.VerifyLogin(strings.ToLower(addr), sig), "address comparison ignores case")

	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	assert.False(t, crypto.VerifyLogin(ethcrypto.PubkeyToAddress(other.PublicKey).Hex(), sig))
	assert.False(t, crypto.VerifyLogin(addr, "0xdeadbeef"))
}

func TestRecoverPersonalSignerAcceptsBothVEncodings(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	want := ethcrypto.PubkeyToAddress(key.PublicKey)

	sig, err := crypto.SignPersonal("hello", key)
	require.NoError(t, err)

	got, err := crypto.RecoverPersonalSigner("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw := hexutil.MustDecode(sig)
	raw[64] -= 27
	got, err = crypto.RecoverPersonalSigner("hello", hexutil.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = crypto.RecoverPersonalSigner("goodbye", sig)
	require.NoError(t, err)
	assert.NotEqual(t, want, got)
}

func TestBouncerKeyRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hexutil.Encode(ethcrypto.FromECDSA(key))
	const encKey = "0123456789abcdef"

	stored, err := crypto.EncryptBouncerKey(keyHex, encKey)
	require.NoError(t, err)

	got, err := crypto.DecryptBouncerKey(stored, encKey)
	require.NoError(t, err)
	assert.Equal(t, key.D, got.D)

	_, err = crypto.DecryptBouncerKey(stored, "fedcba9876543210")
	assert.Error(t, err)

	_, err = crypto.DecryptBouncerKey("not base64!", encKey)
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hexutil.Encode(ethcrypto.FromECDSA(key))

	t.Run("raw", func(t *testing.T) {
		got, err := crypto.LoadKey(crypto.KeyConfig{RawPrivateKey: keyHex})
		require.NoError(t, err)
		assert.Equal(t, key.D, got.D)
	})

	t.Run("encrypted file", func(t *testing.T) {
		body, err := crypto.EncryptKey(keyHex, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "relayer.json")
		require.NoError(t, os.WriteFile(path, body, 0o600))

		got, err := crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, key.D, got.D)

		_, err = crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
		assert.Error(t, err)
	})

	t.Run("none", func(t *testing.T) {
		_, err := crypto.LoadKey(crypto.KeyConfig{})
		assert.Error(t, err)
	})
}
