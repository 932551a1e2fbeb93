package core

import "time"

// SessionStatus is the lifecycle state of an authentication session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusScanned   SessionStatus = "scanned"
	StatusConfirmed SessionStatus = "confirmed"
	StatusCompleted SessionStatus = "completed"
	StatusExpired   SessionStatus = "expired"
	StatusFailed    SessionStatus = "failed"
	StatusRejected  SessionStatus = "rejected"
)

// IsTerminal reports whether no further transition is accepted from s.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// rank orders the non-terminal states so that status only moves forward.
func (s SessionStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusScanned:
		return 1
	case StatusConfirmed:
		return 2
	}
	return 3
}

// CanTransition reports whether a session in status s may move to status to.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch to {
	case StatusScanned, StatusConfirmed:
		return to.rank() > s.rank()
	case StatusCompleted, StatusExpired, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// AuthQRPayload is the payload embedded in the QR code / deep link
type AuthQRPayload struct {
	Version   int    `json:"v"`
	Protocol  string `json:"protocol"`
	ServiceID string `json:"service"`
	SessionID string `json:"session"`
	Challenge string `json:"challenge"`
	Callback  string `json:"callback"`
	ExpiresAt int64  `json:"exp"` // epoch milliseconds
	Mint      string `json:"mint,omitempty"`
	Name      string `json:"name,omitempty"`
	Logo      string `json:"logo,omitempty"`
}

// SubscriptionProof is the signer's claim that the wallet holds the subscription token
type SubscriptionProof struct {
	Mint         string `json:"mint"`
	TokenAccount string `json:"tokenAccount"`
	Balance      string `json:"balance"`             // integer amount in base units
	ExpiresAt    *int64 `json:"expiresAt,omitempty"` // epoch milliseconds
	Slot         uint64 `json:"slot,omitempty"`
	Blockhash    string `json:"blockhash,omitempty"`
}

// AuthSession is the server-held record of one login attempt
type AuthSession struct {
	ID                 string             `json:"id"`
	ServiceID          string             `json:"serviceId"`
	Challenge          string             `json:"challenge"`
	Status             SessionStatus      `json:"status"`
	CreatedAt          time.Time          `json:"createdAt"`
	ExpiresAt          time.Time          `json:"expiresAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
	Wallet             string             `json:"wallet,omitempty"`
	PublicKey          string             `json:"publicKey,omitempty"`
	Signature          string             `json:"signature,omitempty"`
	SubscriptionProof  *SubscriptionProof `json:"subscriptionProof,omitempty"`
	SubscriptionActive bool               `json:"subscriptionActive,omitempty"`
	FailureCode        Code               `json:"failureCode,omitempty"`
	Reason             string             `json:"reason,omitempty"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
	PollSecretHash     string             `json:"pollSecretHash,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (s AuthSession) Clone() AuthSession {
	out := s
	if s.SubscriptionProof != nil {
		p := *s.SubscriptionProof
		if p.ExpiresAt != nil {
			exp := *p.ExpiresAt
			p.ExpiresAt = &exp
		}
		out.SubscriptionProof = &p
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Failure returns the error a failed or rejected session ended with, or nil.
func (s AuthSession) Failure() *Error {
	switch s.Status {
	case StatusFailed:
		if s.FailureCode == "" {
			return NewError(CodeSessionFailed, "Session failed")
		}
		return NewError(s.FailureCode, s.Reason)
	case StatusRejected:
		if s.Reason == "" {
			return ErrSessionRejected
		}
		return NewError(CodeSessionRejected, "Session rejected: "+s.Reason)
	case StatusExpired:
		return ErrSessionExpired
	}
	return nil
}

// Info returns the minimal metadata exposed in verification results.
func (s AuthSession) Info() *SessionInfo {
	return &SessionInfo{
		ID:        s.ID,
		Status:    s.Status,
		ExpiresAt: s.ExpiresAt.UnixMilli(),
	}
}

// SessionUpdate is a typed partial update; nil fields are left untouched.
type SessionUpdate struct {
	Status            *SessionStatus
	Wallet            *string
	PublicKey         *string
	Signature         *string
	SubscriptionProof *SubscriptionProof
	Metadata          map[string]string
}

// AuthResponse is the callback body posted by the wallet app
type AuthResponse struct {
	SessionID         string             `json:"sessionId"`
	Wallet            string             `json:"wallet"`
	Signature         string             `json:"signature"`
	PublicKey         string             `json:"publicKey"`
	Timestamp         int64              `json:"timestamp"` // epoch milliseconds
	SubscriptionProof *SubscriptionProof `json:"subscriptionProof,omitempty"`
	DeviceID          string             `json:"deviceId,omitempty"`
}

// SessionInfo is the session metadata attached to a VerificationResult
type SessionInfo struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	ExpiresAt int64         `json:"expiresAt"`
}

// VerificationResult is the outcome of a callback verification
type VerificationResult struct {
	Success            bool         `json:"success"`
	Error              string       `json:"error,omitempty"`
	Code               Code         `json:"code,omitempty"`
	Wallet             string       `json:"wallet,omitempty"`
	SubscriptionActive bool         `json:"subscriptionActive,omitempty"`
	Session            *SessionInfo `json:"session,omitempty"`
}

// Err returns the domain error described by the result, or nil on success.
func (r VerificationResult) Err() error {
	if r.Success {
		return nil
	}
	return NewError(r.Code, r.Error)
}

// Failure builds a failed result from a domain error.
func Failure(err *Error, session *SessionInfo) VerificationResult {
	return VerificationResult{
		Success: false,
		Error:   err.Message,
		Code:    err.Code,
		Session: session,
	}
}

// Identity is a verified wallet attached to a request
type Identity struct {
	Wallet             string
	SessionID          string
	SubscriptionActive bool
	ExpiresAt          time.Time
}
