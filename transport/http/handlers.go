package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/internal/logging"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
	"github.com/IsSlashy/Protocol-01-sub006/service"
)

// HeaderPollSecret carries the poll secret returned by CreateSession. The
// "secret" query parameter is accepted too, for websocket clients that cannot
// set headers.
const HeaderPollSecret = "X-P01-Poll-Secret"

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	client    *service.Client
	verifier  *service.Verifier
	tokenizer ports.Tokenizer
	logger    logging.Logger
}

// NewAuthHandlers creates new auth handlers. verifier and tokenizer may be nil.
func NewAuthHandlers(client *service.Client, verifier *service.Verifier, tokenizer ports.Tokenizer, logger logging.Logger) *AuthHandlers {
	return &AuthHandlers{
		client:    client,
		verifier:  verifier,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

// CreateSession starts a login and returns the QR code to display
func (h *AuthHandlers) CreateSession(c *gin.Context) {
	var req struct {
		TTLMs    int64             `json:"ttl_ms"`
		Metadata map[string]string `json:"metadata"`
	}

	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.TTLMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ttl_ms must not be negative"})
		return
	}

	created, err := h.client.CreateSession(c.Request.Context(), service.CreateSessionOptions{
		TTL:      time.Duration(req.TTLMs) * time.Millisecond,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id":       created.SessionID,
		"poll_secret":      created.PollSecret,
		"deep_link":        created.DeepLink,
		"qr_code_svg":      created.QRCodeSVG,
		"qr_code_data_url": created.QRCodeDataURL,
		"expires_at":       created.ExpiresAt.UnixMilli(),
	})
}

// GetSession returns the session, plus an access token once it completed.
// Requires the poll secret.
func (h *AuthHandlers) GetSession(c *gin.Context) {
	session, err := h.client.AuthorizePoll(c.Request.Context(), c.Param("id"), pollSecret(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeSession(c, session)
}

// CancelSession deletes a session the service no longer waits for. Requires
// the poll secret.
func (h *AuthHandlers) CancelSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.client.AuthorizePoll(c.Request.Context(), id, pollSecret(c)); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.client.CancelSession(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session cancelled"})
}

// ScanSession is called by the wallet app after opening the deep link
func (h *AuthHandlers) ScanSession(c *gin.Context) {
	session, err := h.client.MarkScanned(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": newSessionView(session)})
}

// ConfirmSession is called by the wallet app once the user approved
func (h *AuthHandlers) ConfirmSession(c *gin.Context) {
	session, err := h.client.MarkConfirmed(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": newSessionView(session)})
}

// RejectSession is called by the wallet app when the user declined
func (h *AuthHandlers) RejectSession(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	session, err := h.client.RejectSession(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": newSessionView(session)})
}

// WaitSession long-polls until the session completes or ends. Requires the
// poll secret.
func (h *AuthHandlers) WaitSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.client.AuthorizePoll(c.Request.Context(), id, pollSecret(c)); err != nil {
		h.writeError(c, err)
		return
	}

	timeout, ok := durationQuery(c, "timeout_ms")
	if !ok {
		return
	}
	poll, ok := durationQuery(c, "poll_ms")
	if !ok {
		return
	}

	session, err := h.client.WaitForCompletion(c.Request.Context(), id, service.WaitOptions{
		PollInterval: poll,
		Timeout:      timeout,
	})
	switch {
	case errors.Is(err, context.Canceled):
		// caller went away
		c.Abort()
	case err != nil && session.Status.IsTerminal():
		de := core.AsError(err)
		c.JSON(http.StatusConflict, gin.H{"error": de.Message, "code": de.Code, "session": newSessionView(session)})
	case err != nil:
		h.writeError(c, err)
	default:
		h.writeSession(c, session)
	}
}

// Callback receives the signed response posted by the wallet app
func (h *AuthHandlers) Callback(c *gin.Context) {
	var resp core.AuthResponse
	if err := c.ShouldBindJSON(&resp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result := h.client.HandleCallback(c.Request.Context(), resp)
	c.JSON(resultStatus(result), result)
}

// Verify checks a callback without touching the session lifecycle
func (h *AuthHandlers) Verify(c *gin.Context) {
	if h.verifier == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Verification is not configured"})
		return
	}

	var resp core.AuthResponse
	if err := c.ShouldBindJSON(&resp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result := h.verifier.VerifyCallback(c.Request.Context(), resp, nil)
	c.JSON(resultStatus(result), result)
}

// Subscription reports whether a wallet holds the subscription token
func (h *AuthHandlers) Subscription(c *gin.Context) {
	if h.verifier == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Verification is not configured"})
		return
	}

	status, err := h.verifier.CheckSubscription(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		if errors.Is(err, service.ErrSubscriptionNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription is not configured"})
			return
		}
		h.logger.WithError(err).WithField("wallet", c.Param("wallet")).Warn("Subscription lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to check subscription"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Me returns the wallet the request was authenticated as
func (h *AuthHandlers) Me(c *gin.Context) {
	identity, exists := identityFromGin(c)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Identity not found in context"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":              identity.Wallet,
		"session_id":          identity.SessionID,
		"subscription_active": identity.SubscriptionActive,
		"expires_at":          identity.ExpiresAt.UnixMilli(),
	})
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionView is the session as returned over HTTP. The challenge, the wallet
// signature and the poll secret hash stay on the server.
type sessionView struct {
	ID                 string             `json:"id"`
	ServiceID          string             `json:"serviceId"`
	Status             core.SessionStatus `json:"status"`
	CreatedAt          time.Time          `json:"createdAt"`
	ExpiresAt          time.Time          `json:"expiresAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
	Wallet             string             `json:"wallet,omitempty"`
	SubscriptionActive bool               `json:"subscriptionActive,omitempty"`
	FailureCode        core.Code          `json:"failureCode,omitempty"`
	Reason             string             `json:"reason,omitempty"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

func newSessionView(s core.AuthSession) sessionView {
	return sessionView{
		ID:                 s.ID,
		ServiceID:          s.ServiceID,
		Status:             s.Status,
		CreatedAt:          s.CreatedAt,
		ExpiresAt:          s.ExpiresAt,
		UpdatedAt:          s.UpdatedAt,
		Wallet:             s.Wallet,
		SubscriptionActive: s.SubscriptionActive,
		FailureCode:        s.FailureCode,
		Reason:             s.Reason,
		Metadata:           s.Metadata,
	}
}

func pollSecret(c *gin.Context) string {
	if secret := c.GetHeader(HeaderPollSecret); secret != "" {
		return secret
	}
	return c.Query("secret")
}

func (h *AuthHandlers) writeSession(c *gin.Context, session core.AuthSession) {
	body := gin.H{"session": newSessionView(session)}
	if session.Status == core.StatusCompleted && h.tokenizer != nil {
		token, err := h.tokenizer.IssueAccessToken(session)
		if err != nil {
			h.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to issue access token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue access token"})
			return
		}
		body["access_token"] = token
		body["token_type"] = "Bearer"
	}
	c.JSON(http.StatusOK, body)
}

// writeError maps domain errors to status codes; anything else is a 500
func (h *AuthHandlers) writeError(c *gin.Context, err error) {
	var de *core.Error
	if !errors.As(err, &de) || de.Code == core.CodeStoreFailure {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(statusForCode(de.Code), gin.H{"error": de.Message, "code": de.Code})
}

func resultStatus(result core.VerificationResult) int {
	if result.Success {
		return http.StatusOK
	}
	return statusForCode(result.Code)
}

func statusForCode(code core.Code) int {
	switch code {
	case core.CodeSessionNotFound:
		return http.StatusNotFound
	case core.CodeSessionExpired, core.CodeSessionAlreadyCompleted, core.CodeInvalidTransition,
		core.CodeSessionRejected, core.CodeSessionFailed, core.CodeSessionExists:
		return http.StatusConflict
	case core.CodeInvalidSignature, core.CodeTimestampInvalid, core.CodePollSecretInvalid:
		return http.StatusUnauthorized
	case core.CodeSubscriptionNotActive:
		return http.StatusForbidden
	case core.CodeTimeout:
		return http.StatusRequestTimeout
	case core.CodeInvalidPayload:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// durationQuery reads an optional millisecond query parameter. It writes a
// 400 and reports false when the value is malformed.
func durationQuery(c *gin.Context, name string) (time.Duration, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
