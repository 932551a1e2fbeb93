package ports

import (
	"context"

	"github.com/IsSlashy/Protocol-01-sub006/core"
)

// BalanceFetcher reads token balances from the chain
type BalanceFetcher interface {
	// TokenBalance returns the balance of the wallet's associated token
	// account for mint.
	TokenBalance(ctx context.Context, wallet, mint string) (core.TokenBalance, error)
}
