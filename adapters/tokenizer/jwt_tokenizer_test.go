package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsSlashy/Protocol-01-sub006/core"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func completed() core.AuthSession {
	return core.AuthSession{
		ID:                 "sess-1",
		ServiceID:          "svc",
		Status:             core.StatusCompleted,
		Wallet:             "Wallet111",
		SubscriptionActive: true,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok := NewJWTTokenizer(newKey(t), WithClock(func() time.Time { return now }), WithAccessTTL(time.Minute))

	token, err := tok.IssueAccessToken(completed())
	require.NoError(t, err)

	identity, err := tok.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "Wallet111", identity.Wallet)
	assert.Equal(t, "sess-1", identity.SessionID)
	assert.True(t, identity.SubscriptionActive)
	assert.True(t, identity.ExpiresAt.Equal(now.Add(time.Minute)))
}

func TestIssueRequiresCompletedSession(t *testing.T) {
	tok := NewJWTTokenizer(newKey(t))

	pending := completed()
	pending.Status = core.StatusPending
	_, err := tok.IssueAccessToken(pending)
	assert.ErrorIs(t, err, ErrSessionNotCompleted)

	noWallet := completed()
	noWallet.Wallet = ""
	_, err = tok.IssueAccessToken(noWallet)
	assert.ErrorIs(t, err, ErrSessionNotCompleted)
}

func TestParseRejectsBadTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := now
	key := newKey(t)
	tok := NewJWTTokenizer(key, WithClock(func() time.Time { return clock }), WithAccessTTL(time.Minute))

	token, err := tok.IssueAccessToken(completed())
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		clock = now.Add(2 * time.Minute)
		defer func() { clock = now }()
		_, err := tok.ParseAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other key", func(t *testing.T) {
		other := NewJWTTokenizer(newKey(t), WithClock(func() time.Time { return now }))
		_, err := other.ParseAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "Wallet111",
			Audience:  jwt.ClaimStrings{"someone:else"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}}
		foreign, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
		require.NoError(t, err)
		_, err = tok.ParseAccessToken(foreign)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tok.ParseAccessToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
