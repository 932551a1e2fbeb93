package core

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errProofMissing      = errors.New("subscription proof missing")
	errProofMintMissing  = errors.New("subscription proof mint missing")
	errProofMintMismatch = errors.New("subscription proof mint mismatch")
	errProofBalance      = errors.New("subscription proof balance must be a positive integer")
	errProofExpired      = errors.New("subscription proof expired")
)

// base units are plain decimal digits
var baseUnits = regexp.MustCompile(`^[0-9]+$`)

// ParseBalance parses an integer token amount in base units.
func ParseBalance(balance string) (decimal.Decimal, error) {
	if !baseUnits.MatchString(balance) {
		return decimal.Zero, errProofBalance
	}
	return decimal.NewFromString(balance)
}

// Validate runs the local structural checks on a proof. expectedMint is
// ignored when empty.
func (p *SubscriptionProof) Validate(expectedMint string, now time.Time) error {
	if p == nil {
		return errProofMissing
	}
	if strings.TrimSpace(p.Mint) == "" {
		return errProofMintMissing
	}
	amount, err := ParseBalance(p.Balance)
	if err != nil || !amount.IsPositive() {
		return errProofBalance
	}
	if expectedMint != "" && p.Mint != expectedMint {
		return errProofMintMismatch
	}
	if p.ExpiresAt != nil && *p.ExpiresAt <= now.UnixMilli() {
		return errProofExpired
	}
	return nil
}

// TokenBalance is an on-chain token account balance
type TokenBalance struct {
	Account  string          // token account address
	Amount   decimal.Decimal // raw amount in base units
	Decimals uint8
	UIAmount decimal.Decimal // Amount scaled by Decimals
	Slot     uint64          // slot the balance was read at
}

// SubscriptionStatus is the answer to a direct subscription query
type SubscriptionStatus struct {
	Wallet       string `json:"wallet"`
	Mint         string `json:"mint,omitempty"`
	Active       bool   `json:"active"`
	TokenAccount string `json:"tokenAccount,omitempty"`
	Balance      string `json:"balance"`
	UIBalance    string `json:"uiBalance,omitempty"`
	Slot         uint64 `json:"slot,omitempty"`
}
