package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with the wallet session ones
type AccessClaims struct {
	jwt.RegisteredClaims
	ServiceID          string `json:"svc"`
	SubscriptionActive bool   `json:"sub_active"`
}
