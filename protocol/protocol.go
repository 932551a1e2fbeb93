// Package protocol holds the stateless pieces of the P01 wallet authentication
// protocol: identifiers, the QR payload codec, deep links, the canonical sign
// message, time predicates and Ed25519 signature helpers.
//
// Everything here is a pure function of its inputs (plus the system RNG for
// identifiers) and is shared by the client and the verifier so that both sides
// build byte-identical messages.
package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// Version is the supported payload version
	Version = 1

	// ProtocolID identifies the payload on the wire
	ProtocolID = "p01-auth"

	// Scheme is the deep link scheme routed to the wallet app
	Scheme = "p01"

	// DeepLinkAction is the deep link host for authentication requests
	DeepLinkAction = "auth"

	// SignMessagePrefix starts every canonical sign message
	SignMessagePrefix = "P01-AUTH"

	// DefaultSessionTTL is used when the caller does not ask for a TTL
	DefaultSessionTTL = 5 * time.Minute

	// MaxSessionTTL caps every requested TTL
	MaxSessionTTL = 10 * time.Minute

	// DefaultMaxTimestampAge is how old a signed callback may be
	DefaultMaxTimestampAge = 60 * time.Second

	// ClockSkewAllowance is how far in the future a callback timestamp may be
	ClockSkewAllowance = 5 * time.Second

	sessionIDBytes  = 16
	challengeBytes  = 32
	pollSecretBytes = 32
)

// GenerateSessionID returns 128 random bits, hex encoded.
func GenerateSessionID() (string, error) {
	return randomHex(sessionIDBytes)
}

// GenerateChallenge returns 256 random bits, hex encoded.
func GenerateChallenge() (string, error) {
	return randomHex(challengeBytes)
}

// GeneratePollSecret returns 256 random bits, hex encoded. The secret never
// appears in the QR payload.
func GeneratePollSecret() (string, error) {
	return randomHex(pollSecretBytes)
}

// HashPollSecret is the form of a poll secret kept on the session.
func HashPollSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// CheckPollSecret compares secret against a stored hash in constant time. An
// empty secret or hash never matches.
func CheckPollSecret(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashPollSecret(secret)), []byte(hash)) == 1
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateSignMessage builds the message the wallet signs. Field order and
// separator are part of the wire contract.
func CreateSignMessage(serviceID, sessionID, challenge string, timestampMs int64) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", SignMessagePrefix, serviceID, sessionID, challenge, timestampMs)
}

// ClampTTL applies the default to a zero TTL and caps it at MaxSessionTTL.
func ClampTTL(ttl, defaultTTL time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if ttl > MaxSessionTTL {
		ttl = MaxSessionTTL
	}
	return ttl
}

// IsTimestampValid reports whether timestampMs lies in
// [now-maxAge, now+ClockSkewAllowance].
func IsTimestampValid(timestampMs int64, maxAge time.Duration, now time.Time) bool {
	nowMs := now.UnixMilli()
	return timestampMs >= nowMs-maxAge.Milliseconds() &&
		timestampMs <= nowMs+ClockSkewAllowance.Milliseconds()
}

// IsSessionExpired reports whether now is past expiresAt.
func IsSessionExpired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}
