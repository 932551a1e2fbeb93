package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
)

const AudienceAccess = "p01:access"

// DefaultAccessTTL is the lifetime of an access token
const DefaultAccessTTL = 15 * time.Minute

var (
	// ErrInvalidToken is returned for tokens that fail parsing or validation
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotCompleted is returned when issuing a token for an unfinished session
	ErrSessionNotCompleted = errors.New("session is not completed")
)

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey   *ecdsa.PrivateKey
	accessTTL time.Duration
	now       func() time.Time
}

var _ ports.Tokenizer = (*JWTTokenizer)(nil)

// Option configures a JWTTokenizer
type Option func(*JWTTokenizer)

// WithAccessTTL sets the access token lifetime
func WithAccessTTL(ttl time.Duration) Option {
	return func(j *JWTTokenizer) {
		if ttl > 0 {
			j.accessTTL = ttl
		}
	}
}

// WithClock overrides the clock used to stamp and validate tokens
func WithClock(now func() time.Time) Option {
	return func(j *JWTTokenizer) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, opts ...Option) *JWTTokenizer {
	j := &JWTTokenizer{
		signKey:   signKey,
		accessTTL: DefaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// IssueAccessToken converts a completed session to an access JWT token
func (j *JWTTokenizer) IssueAccessToken(session core.AuthSession) (string, error) {
	if session.Status != core.StatusCompleted || session.Wallet == "" {
		return "", ErrSessionNotCompleted
	}

	now := j.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Wallet,
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		ServiceID:          session.ServiceID,
		SubscriptionActive: session.SubscriptionActive,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signedToken, nil
}

// ParseAccessToken validates an access token and returns the identity it carries
func (j *JWTTokenizer) ParseAccessToken(tokenStr string) (core.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	},
		jwt.WithAudience(AudienceAccess),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return core.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return core.Identity{}, ErrInvalidToken
	}

	return core.Identity{
		Wallet:             claims.Subject,
		SessionID:          claims.ID,
		SubscriptionActive: claims.SubscriptionActive,
		ExpiresAt:          claims.ExpiresAt.Time,
	}, nil
}
