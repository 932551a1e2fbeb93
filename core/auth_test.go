package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{StatusPending, StatusScanned, true},
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusRejected, true},
		{StatusScanned, StatusConfirmed, true},
		{StatusScanned, StatusFailed, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusScanned, false},
		{StatusScanned, StatusPending, false},
		{StatusScanned, StatusScanned, false},
		{StatusCompleted, StatusFailed, false},
		{StatusExpired, StatusCompleted, false},
		{StatusFailed, StatusCompleted, false},
		{StatusRejected, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSubscriptionProofValidate(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	future := now.Add(time.Hour).UnixMilli()
	past := now.Add(-time.Second).UnixMilli()

	valid := func() *SubscriptionProof {
		return &SubscriptionProof{Mint: "M", TokenAccount: "acct", Balance: "500"}
	}

	require.NoError(t, valid().Validate("M", now))

	withFuture := valid()
	withFuture.ExpiresAt = &future
	assert.NoError(t, withFuture.Validate("M", now))

	mismatch := valid()
	mismatch.Mint = "other"
	assert.Error(t, mismatch.Validate("M", now))

	zero := valid()
	zero.Balance = "0"
	assert.Error(t, zero.Validate("M", now))

	negative := valid()
	negative.Balance = "-5"
	assert.Error(t, negative.Validate("M", now))

	fractional := valid()
	fractional.Balance = "1.5"
	assert.Error(t, fractional.Validate("M", now))

	for _, balance := range []string{"lots", "", "1e3", "5.0", " 7 ", "+3", "0x10", "1_000"} {
		p := valid()
		p.Balance = balance
		assert.Error(t, p.Validate("M", now), "balance %q", balance)
	}

	padded := valid()
	padded.Balance = "007"
	assert.NoError(t, padded.Validate("M", now))

	expired := valid()
	expired.ExpiresAt = &past
	assert.Error(t, expired.Validate("M", now))

	noMint := valid()
	noMint.Mint = ""
	assert.Error(t, noMint.Validate("", now))

	var missing *SubscriptionProof
	assert.Error(t, missing.Validate("M", now))

	// without an expected mint any non-empty mint passes
	assert.NoError(t, mismatch.Validate("", now))
}

func TestErrorIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("handle: %w", WrapError(CodeSessionNotFound, "lookup failed", errors.New("boom")))
	assert.ErrorIs(t, wrapped, ErrSessionNotFound)
	assert.NotErrorIs(t, wrapped, ErrSessionExpired)

	de := AsError(wrapped)
	assert.Equal(t, CodeSessionNotFound, de.Code)

	other := AsError(errors.New("redis down"))
	assert.Equal(t, CodeStoreFailure, other.Code)
	assert.Nil(t, AsError(nil))
}

func TestCloneDoesNotShareState(t *testing.T) {
	exp := int64(10)
	s := AuthSession{
		ID:                "s1",
		Metadata:          map[string]string{"a": "1"},
		SubscriptionProof: &SubscriptionProof{Mint: "M", Balance: "1", ExpiresAt: &exp},
	}
	c := s.Clone()
	c.Metadata["a"] = "2"
	c.SubscriptionProof.Mint = "X"
	*c.SubscriptionProof.ExpiresAt = 20

	assert.Equal(t, "1", s.Metadata["a"])
	assert.Equal(t, "M", s.SubscriptionProof.Mint)
	assert.Equal(t, int64(10), *s.SubscriptionProof.ExpiresAt)
}

func TestEventVariants(t *testing.T) {
	s := AuthSession{ID: "s1", Wallet: "W", Status: StatusCompleted}

	var ev AuthEvent = NewSessionCompleted(s, true)
	assert.Equal(t, EventSessionCompleted, ev.Type())
	assert.Equal(t, "s1", ev.SessionID())

	completed, ok := ev.(SessionCompleted)
	require.True(t, ok)
	assert.Equal(t, "W", completed.Wallet)
	assert.True(t, completed.SubscriptionActive)

	failed := NewSessionFailed(s, ErrInvalidSignature)
	assert.Equal(t, EventSessionFailed, failed.Type())
	assert.Equal(t, "Invalid signature", failed.Err.Message)

	s.Status = StatusExpired
	assert.IsType(t, SessionExpired{}, EventForStatus(s))
}
