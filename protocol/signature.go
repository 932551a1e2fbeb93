package protocol

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

var (
	errKeyLength       = fmt.Errorf("public key must be %d bytes", ed25519.PublicKeySize)
	errSignatureLength = fmt.Errorf("signature must be %d bytes", ed25519.SignatureSize)
)

// DecodePublicKey decodes a base58 (or base64) Ed25519 public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := decodeFixed(s, ed25519.PublicKeySize)
	if err != nil {
		return nil, errKeyLength
	}
	return ed25519.PublicKey(b), nil
}

// DecodeSignature decodes a base58 (or base64) Ed25519 signature.
func DecodeSignature(s string) ([]byte, error) {
	b, err := decodeFixed(s, ed25519.SignatureSize)
	if err != nil {
		return nil, errSignatureLength
	}
	return b, nil
}

// decodeFixed tries base58 first, then the base64 variants wallets emit, and
// accepts the first decoding of the expected size.
func decodeFixed(s string, size int) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty value")
	}
	if b, err := base58.Decode(s); err == nil && len(b) == size {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == size {
			return b, nil
		}
	}
	return nil, errors.New("undecodable value")
}

// WalletAddress returns the base58 wallet address of a public key.
func WalletAddress(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// WalletAddressFromKey derives the wallet address from an encoded public key.
func WalletAddressFromKey(publicKey string) (string, error) {
	pub, err := DecodePublicKey(publicKey)
	if err != nil {
		return "", err
	}
	return WalletAddress(pub), nil
}

// VerifySignature checks an Ed25519 detached signature over message. Any
// decoding problem is reported as a failed verification.
func VerifySignature(message, signature, publicKey string) bool {
	pub, err := DecodePublicKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(message), sig)
}

// SignMessage signs message and returns the base58 signature, the way a
// wallet app answers a sign request.
func SignMessage(priv ed25519.PrivateKey, message string) string {
	return base58.Encode(ed25519.Sign(priv, []byte(message)))
}
