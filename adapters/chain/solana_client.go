// Package chain reads SPL token balances from a Solana JSON-RPC endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/internal/logging"
	"github.com/IsSlashy/Protocol-01-sub006/internal/monitoring"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
)

const methodTokenAccountBalance = "getTokenAccountBalance"

// invalid params, which is how the node reports a missing account
const codeInvalidParams = -32602

// ErrAccountNotFound is returned when the token account does not exist
var ErrAccountNotFound = core.ErrTokenAccountNotFound

// Config configures the Solana client
type Config struct {
	Endpoint   string
	Commitment string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	HTTPClient *http.Client
	Logger     logging.Logger
	Metrics    *monitoring.Metrics
}

func (c Config) withDefaults() Config {
	if c.Commitment == "" {
		c.Commitment = "confirmed"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = 2 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c
}

// SolanaClient implements ports.BalanceFetcher over JSON-RPC
type SolanaClient struct {
	rpc        *rpc.Client
	executor   failsafe.Executor[tokenAmountResult]
	group      singleflight.Group
	timeout    time.Duration
	commitment string
	logger     logging.Logger
	metrics    *monitoring.Metrics
}

var _ ports.BalanceFetcher = (*SolanaClient)(nil)

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type tokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

type tokenAmountResult struct {
	Context rpcContext  `json:"context"`
	Value   tokenAmount `json:"value"`
}

// NewSolanaClient dials the endpoint. HTTP endpoints are connectionless, so
// this does not touch the network.
func NewSolanaClient(ctx context.Context, cfg Config) (*SolanaClient, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, errors.New("solana rpc endpoint is required")
	}

	client, err := rpc.DialOptions(ctx, cfg.Endpoint, rpc.WithHTTPClient(cfg.HTTPClient))
	if err != nil {
		return nil, fmt.Errorf("failed to dial solana rpc: %w", err)
	}

	policy := retrypolicy.NewBuilder[tokenAmountResult]().
		HandleIf(func(_ tokenAmountResult, err error) bool {
			return isTransient(err)
		}).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		Build()

	return &SolanaClient{
		rpc:        client,
		executor:   failsafe.With(policy),
		timeout:    cfg.Timeout,
		commitment: cfg.Commitment,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Close releases the underlying RPC client
func (c *SolanaClient) Close() {
	c.rpc.Close()
}

// TokenBalance returns the balance of the associated token account of wallet
// for mint. Concurrent lookups of one account share a single request. That
// request runs detached from any one caller's cancellation, bounded by the
// configured timeout, and each caller stops waiting when its own ctx ends.
func (c *SolanaClient) TokenBalance(ctx context.Context, wallet, mint string) (core.TokenBalance, error) {
	account, err := AssociatedTokenAddress(wallet, mint)
	if err != nil {
		return core.TokenBalance{}, err
	}

	ch := c.group.DoChan(account, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.accountBalance(lookupCtx, account)
	})

	select {
	case <-ctx.Done():
		return core.TokenBalance{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return core.TokenBalance{}, res.Err
		}
		return res.Val.(core.TokenBalance), nil
	}
}

func (c *SolanaClient) accountBalance(ctx context.Context, account string) (core.TokenBalance, error) {
	start := time.Now()
	res, err := c.executor.WithContext(ctx).Get(func() (tokenAmountResult, error) {
		var out tokenAmountResult
		err := c.rpc.CallContext(ctx, &out, methodTokenAccountBalance, account, map[string]string{
			"commitment": c.commitment,
		})
		return out, err
	})
	c.metrics.ObserveRPC(methodTokenAccountBalance, err, time.Since(start))

	if err != nil {
		if isAccountNotFound(err) {
			return core.TokenBalance{}, ErrAccountNotFound
		}
		if c.logger != nil {
			c.logger.WithError(err).WithField("account", account).Warn("Token balance lookup failed")
		}
		return core.TokenBalance{}, fmt.Errorf("failed to get token balance: %w", err)
	}

	amount, err := decimal.NewFromString(res.Value.Amount)
	if err != nil {
		return core.TokenBalance{}, fmt.Errorf("invalid token amount %q: %w", res.Value.Amount, err)
	}
	return core.TokenBalance{
		Account:  account,
		Amount:   amount,
		Decimals: res.Value.Decimals,
		UIAmount: amount.Shift(-int32(res.Value.Decimals)),
		Slot:     res.Context.Slot,
	}, nil
}

// isTransient is true for transport failures. JSON-RPC errors are answers
// from the node and are never retried.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func isAccountNotFound(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.ErrorCode() == codeInvalidParams &&
		strings.Contains(strings.ToLower(rpcErr.Error()), "could not find account")
}
