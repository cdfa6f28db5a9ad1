package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
)

// DecryptBouncerKey decrypts a bouncer private key stored as base64
// AES-ECB ciphertext with PKCS#7 padding. The key length selects AES-128,
// AES-192 or AES-256; stored bouncers use AES-128.
func DecryptBouncerKey(stored, encryptionKey string) (*ecdsa.PrivateKey, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("crypto: bouncer key base64: %w", err)
	}
	block, err := aes.NewCipher([]byte(encryptionKey))
	if err != nil {
		return nil, fmt.Errorf("crypto: bouncer cipher: %w", err)
	}
	bs := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("crypto: bouncer ciphertext length %d not a multiple of %d", len(ciphertext), bs)
	}

	plain := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += bs {
		block.Decrypt(plain[i:i+bs], ciphertext[i:i+bs])
	}
	plain, err = pkcs7Unpad(plain, bs)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(string(plain))
}

// EncryptBouncerKey is the inverse of DecryptBouncerKey. It is used when
// provisioning bouncers.
func EncryptBouncerKey(privateKeyHex, encryptionKey string) (string, error) {
	block, err := aes.NewCipher([]byte(encryptionKey))
	if err != nil {
		return "", fmt.Errorf("crypto: bouncer cipher: %w", err)
	}
	bs := block.BlockSize()
	plain := pkcs7Pad([]byte(privateKeyHex), bs)
	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += bs {
		block.Encrypt(out[i:i+bs], plain[i:i+bs])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

var errBadPadding = errors.New("crypto: bouncer key padding invalid (wrong encryption key?)")

func pkcs7Pad(b []byte, bs int) []byte {
	n := bs - len(b)%bs
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, bs int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > bs || n > len(b) {
		return nil, errBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
