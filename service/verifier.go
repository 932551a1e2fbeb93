package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/internal/logging"
	"github.com/IsSlashy/Protocol-01-sub006/internal/monitoring"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
	"github.com/IsSlashy/Protocol-01-sub006/protocol"
)

// HeaderAuth carries a base64 JSON AuthResponse on downstream requests
const HeaderAuth = "X-P01-Auth"

// ErrSubscriptionNotConfigured is returned by CheckSubscription without a mint
var ErrSubscriptionNotConfigured = errors.New("subscription mint not configured")

// VerifierConfig describes the verifying service
type VerifierConfig struct {
	ServiceID        string
	SubscriptionMint string
	MaxTimestampAge  time.Duration
}

// Verifier checks wallet callbacks without owning the session lifecycle. It
// keeps no mutable state and is safe for concurrent use.
type Verifier struct {
	cfg      VerifierConfig
	sessions ports.SessionStore
	balances ports.BalanceFetcher
	logger   logging.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithSessionLookup lets the verifier recover challenges from the store
func WithSessionLookup(store ports.SessionStore) VerifierOption {
	return func(v *Verifier) { v.sessions = store }
}

// WithBalanceFetcher enables the on-chain subscription check
func WithBalanceFetcher(b ports.BalanceFetcher) VerifierOption {
	return func(v *Verifier) { v.balances = b }
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func WithVerifierLogger(l logging.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

func WithVerifierMetrics(m *monitoring.Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier creates a Verifier
func NewVerifier(cfg VerifierConfig, opts ...VerifierOption) (*Verifier, error) {
	if strings.TrimSpace(cfg.ServiceID) == "" {
		return nil, errors.New("service id is required")
	}
	if cfg.MaxTimestampAge <= 0 {
		cfg.MaxTimestampAge = protocol.DefaultMaxTimestampAge
	}
	v := &Verifier{
		cfg:    cfg,
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// VerifyCallback checks timestamp, then signature, then subscription, and
// stops at the first failure. The challenge comes from session when given,
// otherwise from the session store.
func (v *Verifier) VerifyCallback(ctx context.Context, resp core.AuthResponse, session *core.AuthSession) core.VerificationResult {
	result := v.verifyCallback(ctx, resp, session)
	v.metrics.Verification(string(result.Code))
	return result
}

func (v *Verifier) verifyCallback(ctx context.Context, resp core.AuthResponse, session *core.AuthSession) core.VerificationResult {
	if session == nil {
		if v.sessions == nil {
			return core.Failure(core.ErrSessionNotFound, nil)
		}
		stored, err := v.sessions.Get(ctx, resp.SessionID)
		if err != nil {
			if !errors.Is(err, core.ErrSessionNotFound) {
				v.logger.WithError(err).WithField("session_id", resp.SessionID).Error("Failed to load session")
			}
			return core.Failure(core.AsError(err), nil)
		}
		session = &stored
	}
	if session.ID != resp.SessionID {
		return core.Failure(core.ErrSessionNotFound, nil)
	}
	info := session.Info()

	if !protocol.IsTimestampValid(resp.Timestamp, v.cfg.MaxTimestampAge, v.now()) {
		return core.Failure(core.ErrTimestampInvalid, info)
	}
	if !v.VerifySignature(resp, session.Challenge) {
		return core.Failure(core.ErrInvalidSignature, info)
	}
	if v.cfg.SubscriptionMint != "" && !v.VerifySubscription(ctx, resp.Wallet, resp.SubscriptionProof) {
		return core.Failure(core.ErrSubscriptionNotActive, info)
	}

	return core.VerificationResult{
		Success:            true,
		Wallet:             resp.Wallet,
		SubscriptionActive: v.cfg.SubscriptionMint != "",
		Session:            info,
	}
}

// VerifySignature rebuilds the sign message with this verifier's service id.
// A public key that does not derive resp.Wallet fails before any signature
// math runs.
func (v *Verifier) VerifySignature(resp core.AuthResponse, challenge string) bool {
	return verifyWalletSignature(resp, v.cfg.ServiceID, challenge)
}

// VerifySubscription is true when no mint is configured. Otherwise a supplied
// proof must pass ValidateSubscriptionProof and the wallet's token account
// must hold a positive on-chain balance. Lookup failures count as inactive.
// Without a balance fetcher the proof alone decides.
func (v *Verifier) VerifySubscription(ctx context.Context, wallet string, proof *core.SubscriptionProof) bool {
	if v.cfg.SubscriptionMint == "" {
		return true
	}
	if proof != nil && !v.ValidateSubscriptionProof(proof) {
		return false
	}
	if v.balances == nil {
		return proof != nil
	}

	balance, err := v.balances.TokenBalance(ctx, wallet, v.cfg.SubscriptionMint)
	if err != nil {
		v.logger.WithError(err).WithField("wallet", wallet).Info("Subscription balance lookup failed")
		return false
	}
	return balance.Amount.IsPositive()
}

// ValidateSubscriptionProof runs the local proof checks against the
// configured mint.
func (v *Verifier) ValidateSubscriptionProof(proof *core.SubscriptionProof) bool {
	return proof.Validate(v.cfg.SubscriptionMint, v.now()) == nil
}

// CheckSubscription reads the wallet's subscription balance directly
func (v *Verifier) CheckSubscription(ctx context.Context, wallet string) (core.SubscriptionStatus, error) {
	if v.cfg.SubscriptionMint == "" {
		return core.SubscriptionStatus{}, ErrSubscriptionNotConfigured
	}
	if v.balances == nil {
		return core.SubscriptionStatus{}, errors.New("balance lookups are not configured")
	}
	status := core.SubscriptionStatus{
		Wallet:  wallet,
		Mint:    v.cfg.SubscriptionMint,
		Balance: "0",
	}

	balance, err := v.balances.TokenBalance(ctx, wallet, v.cfg.SubscriptionMint)
	if errors.Is(err, core.ErrTokenAccountNotFound) {
		return status, nil
	}
	if err != nil {
		return core.SubscriptionStatus{}, fmt.Errorf("failed to check subscription: %w", err)
	}

	status.Active = balance.Amount.IsPositive()
	status.TokenAccount = balance.Account
	status.Balance = balance.Amount.String()
	status.UIBalance = balance.UIAmount.String()
	status.Slot = balance.Slot
	return status, nil
}

// AuthenticateHeader verifies an X-P01-Auth header value. It reports false
// for an empty, undecodable or unverified header.
func (v *Verifier) AuthenticateHeader(ctx context.Context, header string) (core.Identity, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return core.Identity{}, false
	}
	resp, err := DecodeAuthHeader(header)
	if err != nil {
		v.logger.WithError(err).Debug("Ignoring malformed auth header")
		return core.Identity{}, false
	}

	result := v.VerifyCallback(ctx, resp, nil)
	if !result.Success {
		v.logger.WithFields(logging.Fields{
			"session_id": resp.SessionID,
			"code":       result.Code,
		}).Debug("Ignoring unverified auth header")
		return core.Identity{}, false
	}

	identity := core.Identity{
		Wallet:             result.Wallet,
		SessionID:          resp.SessionID,
		SubscriptionActive: result.SubscriptionActive,
	}
	if result.Session != nil {
		identity.ExpiresAt = time.UnixMilli(result.Session.ExpiresAt)
	}
	return identity, true
}

// Middleware attaches the verified identity to the request context. Requests
// without a valid header pass through unchanged.
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, ok := v.AuthenticateHeader(r.Context(), r.Header.Get(HeaderAuth)); ok {
				r = r.WithContext(WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EncodeAuthHeader encodes a callback body for the X-P01-Auth header
func EncodeAuthHeader(resp core.AuthResponse) (string, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeAuthHeader accepts standard or URL-safe base64, padded or not
func DecodeAuthHeader(header string) (core.AuthResponse, error) {
	var raw []byte
	var err error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if raw, err = enc.DecodeString(header); err == nil {
			break
		}
	}
	if err != nil {
		return core.AuthResponse{}, fmt.Errorf("failed to decode auth header: %w", err)
	}

	var resp core.AuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return core.AuthResponse{}, fmt.Errorf("failed to parse auth header: %w", err)
	}
	if resp.SessionID == "" || resp.Wallet == "" || resp.Signature == "" || resp.PublicKey == "" {
		return core.AuthResponse{}, errors.New("auth header is missing required fields")
	}
	return resp, nil
}
