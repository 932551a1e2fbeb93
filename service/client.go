package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/IsSlashy/Protocol-01-sub006/adapters/qr"
	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/internal/logging"
	"github.com/IsSlashy/Protocol-01-sub006/internal/monitoring"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
	"github.com/IsSlashy/Protocol-01-sub006/protocol"
)

const (
	// DefaultPollInterval is how often WaitForCompletion reads the store
	DefaultPollInterval = time.Second

	// DefaultWaitTimeout bounds WaitForCompletion when no timeout is given
	DefaultWaitTimeout = protocol.DefaultSessionTTL

	expiryTimeout = 5 * time.Second
)

// errUnchanged aborts a store update that has nothing to write
var errUnchanged = errors.New("session unchanged")

// SubscriptionChecker decides whether a wallet holds the subscription token
type SubscriptionChecker interface {
	VerifySubscription(ctx context.Context, wallet string, proof *core.SubscriptionProof) bool
}

// ClientConfig describes the relying service
type ClientConfig struct {
	ServiceID        string
	ServiceName      string
	ServiceLogo      string
	CallbackURL      string
	SubscriptionMint string
	SessionTTL       time.Duration
	QRSize           int
}

// CreateSessionOptions tunes one session
type CreateSessionOptions struct {
	TTL      time.Duration
	Metadata map[string]string
}

// CreatedSession is everything the relying service needs to show a login QR.
// PollSecret is returned only here; reading the session back through
// AuthorizePoll requires it.
type CreatedSession struct {
	SessionID     string
	PollSecret    string
	DeepLink      string
	QRCodeSVG     string
	QRCodeDataURL string
	ExpiresAt     time.Time
	Session       core.AuthSession
}

// WaitOptions tunes WaitForCompletion
type WaitOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client runs the session lifecycle on the relying service side
type Client struct {
	cfg          ClientConfig
	store        ports.SessionStore
	scheduler    Scheduler
	listeners    *listenerRegistry
	subscription SubscriptionChecker
	publisher    ports.EventPublisher
	logger       logging.Logger
	metrics      *monitoring.Metrics
	now          func() time.Time
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithScheduler replaces the default DelayQueue
func WithScheduler(s Scheduler) ClientOption {
	return func(c *Client) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithSubscriptionChecker replaces the local proof check run when a
// subscription mint is configured.
func WithSubscriptionChecker(s SubscriptionChecker) ClientOption {
	return func(c *Client) { c.subscription = s }
}

// WithEventPublisher forwards every event to p after local listeners ran
func WithEventPublisher(p ports.EventPublisher) ClientOption {
	return func(c *Client) { c.publisher = p }
}

func WithLogger(l logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *monitoring.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Client. Close must be called to stop the scheduler.
func NewClient(cfg ClientConfig, store ports.SessionStore, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.ServiceID) == "" {
		return nil, errors.New("service id is required")
	}
	if strings.TrimSpace(cfg.CallbackURL) == "" {
		return nil, errors.New("callback url is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = protocol.DefaultSessionTTL
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = qr.DefaultSize
	}

	c := &Client{
		cfg:       cfg,
		store:     store,
		listeners: newListenerRegistry(),
		logger:    logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scheduler == nil {
		c.scheduler = NewDelayQueue()
	}
	return c, nil
}

// Close stops the expiry scheduler
func (c *Client) Close() {
	c.scheduler.Close()
}

// CreateSession mints a pending session, renders its QR code and schedules
// its expiry.
func (c *Client) CreateSession(ctx context.Context, opts CreateSessionOptions) (CreatedSession, error) {
	id, err := protocol.GenerateSessionID()
	if err != nil {
		return CreatedSession{}, err
	}
	challenge, err := protocol.GenerateChallenge()
	if err != nil {
		return CreatedSession{}, err
	}
	secret, err := protocol.GeneratePollSecret()
	if err != nil {
		return CreatedSession{}, err
	}

	now := c.now()
	ttl := protocol.ClampTTL(opts.TTL, c.cfg.SessionTTL)
	session := core.AuthSession{
		ID:             id,
		ServiceID:      c.cfg.ServiceID,
		Challenge:      challenge,
		Status:         core.StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		UpdatedAt:      now,
		PollSecretHash: protocol.HashPollSecret(secret),
	}
	if len(opts.Metadata) > 0 {
		session.Metadata = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			session.Metadata[k] = v
		}
	}

	deepLink, err := protocol.GenerateDeepLink(core.AuthQRPayload{
		Version:   protocol.Version,
		Protocol:  protocol.ProtocolID,
		ServiceID: c.cfg.ServiceID,
		SessionID: id,
		Challenge: challenge,
		Callback:  c.cfg.CallbackURL,
		ExpiresAt: session.ExpiresAt.UnixMilli(),
		Mint:      c.cfg.SubscriptionMint,
		Name:      c.cfg.ServiceName,
		Logo:      c.cfg.ServiceLogo,
	})
	if err != nil {
		return CreatedSession{}, err
	}
	svg, err := qr.RenderSVG(deepLink, c.cfg.QRSize)
	if err != nil {
		return CreatedSession{}, err
	}

	if err := c.store.Create(ctx, session); err != nil {
		if errors.Is(err, core.ErrSessionExists) {
			return CreatedSession{}, fmt.Errorf("session id collision: %s", id)
		}
		return CreatedSession{}, fmt.Errorf("failed to store session: %w", err)
	}
	c.scheduler.Schedule(id, session.ExpiresAt, func() { c.expire(id) })

	c.metrics.SessionCreated()
	c.logger.WithFields(logging.Fields{
		"session_id": id,
		"expires_at": session.ExpiresAt,
	}).Debug("Session created")
	c.emit(ctx, core.NewSessionCreated(session))

	return CreatedSession{
		SessionID:     id,
		PollSecret:    secret,
		DeepLink:      deepLink,
		QRCodeSVG:     svg,
		QRCodeDataURL: qr.DataURL(svg),
		ExpiresAt:     session.ExpiresAt,
		Session:       session,
	}, nil
}

// expire is the scheduled expiry task
func (c *Client) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()
	if _, err := c.markExpired(ctx, id); err != nil {
		c.logger.WithError(err).WithField("session_id", id).Warn("Failed to expire session")
	}
}

// markExpired moves a non-terminal session to expired. It reports whether
// this call made the transition; terminal or missing sessions are left alone.
func (c *Client) markExpired(ctx context.Context, id string) (bool, error) {
	updated, err := c.store.Update(ctx, id, func(s *core.AuthSession) error {
		if s.Status.IsTerminal() {
			return errUnchanged
		}
		s.Status = core.StatusExpired
		s.UpdatedAt = c.now()
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged), errors.Is(err, core.ErrSessionNotFound):
		return false, nil
	case err != nil:
		return false, err
	}

	c.scheduler.Cancel(id)
	c.metrics.Transition(string(core.StatusExpired))
	c.logger.WithField("session_id", id).Debug("Session expired")
	c.emit(ctx, core.NewSessionExpired(updated))
	return true, nil
}

// GetSession returns the session. A non-terminal session whose expiry has
// passed is expired on read, so callers never see a stale pending session
// even when the expiry task ran on another instance or not at all.
func (c *Client) GetSession(ctx context.Context, id string) (core.AuthSession, error) {
	session, err := c.store.Get(ctx, id)
	if err != nil {
		return core.AuthSession{}, err
	}
	if session.Status.IsTerminal() || !protocol.IsSessionExpired(session.ExpiresAt, c.now()) {
		return session, nil
	}
	if _, err := c.markExpired(ctx, id); err != nil {
		return core.AuthSession{}, err
	}
	return c.store.Get(ctx, id)
}

// AuthorizePoll returns the session when secret is the poll secret minted by
// CreateSession. The session id travels in the QR code, so it alone must not
// unlock the session record.
func (c *Client) AuthorizePoll(ctx context.Context, id, secret string) (core.AuthSession, error) {
	session, err := c.GetSession(ctx, id)
	if err != nil {
		return core.AuthSession{}, err
	}
	if !protocol.CheckPollSecret(secret, session.PollSecretHash) {
		c.logger.WithField("session_id", id).Debug("Poll secret rejected")
		return core.AuthSession{}, core.ErrPollSecretInvalid
	}
	return session, nil
}

// UpdateSession applies a partial update. A status change must move forward,
// is refused once the session expired, and emits the matching event.
func (c *Client) UpdateSession(ctx context.Context, id string, upd core.SessionUpdate) (core.AuthSession, error) {
	var from core.SessionStatus
	updated, err := c.store.Update(ctx, id, func(s *core.AuthSession) error {
		from = s.Status
		if upd.Status != nil && *upd.Status != s.Status {
			if s.Status.IsTerminal() {
				return terminalError(*s)
			}
			if protocol.IsSessionExpired(s.ExpiresAt, c.now()) {
				return core.ErrSessionExpired
			}
			if !s.Status.CanTransition(*upd.Status) {
				return core.ErrInvalidTransition
			}
			s.Status = *upd.Status
		}
		if upd.Wallet != nil {
			s.Wallet = *upd.Wallet
		}
		if upd.PublicKey != nil {
			s.PublicKey = *upd.PublicKey
		}
		if upd.Signature != nil {
			s.Signature = *upd.Signature
		}
		if upd.SubscriptionProof != nil {
			proof := *upd.SubscriptionProof
			s.SubscriptionProof = &proof
		}
		if len(upd.Metadata) > 0 {
			if s.Metadata == nil {
				s.Metadata = make(map[string]string, len(upd.Metadata))
			}
			for k, v := range upd.Metadata {
				s.Metadata[k] = v
			}
		}
		s.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrSessionExpired) {
			_, _ = c.markExpired(ctx, id)
		}
		return core.AuthSession{}, err
	}

	if updated.Status != from {
		c.afterTransition(ctx, updated, core.EventForStatus(updated))
	}
	return updated, nil
}

// MarkScanned records that the wallet app opened the deep link
func (c *Client) MarkScanned(ctx context.Context, id string) (core.AuthSession, error) {
	return c.advance(ctx, id, core.StatusScanned)
}

// MarkConfirmed records that the user approved the request in the wallet app
func (c *Client) MarkConfirmed(ctx context.Context, id string) (core.AuthSession, error) {
	return c.advance(ctx, id, core.StatusConfirmed)
}

func (c *Client) advance(ctx context.Context, id string, to core.SessionStatus) (core.AuthSession, error) {
	updated, err := c.store.Update(ctx, id, func(s *core.AuthSession) error {
		if s.Status.IsTerminal() {
			return terminalError(*s)
		}
		if protocol.IsSessionExpired(s.ExpiresAt, c.now()) {
			return core.ErrSessionExpired
		}
		if !s.Status.CanTransition(to) {
			return core.ErrInvalidTransition
		}
		s.Status = to
		s.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrSessionExpired) {
			_, _ = c.markExpired(ctx, id)
		}
		return core.AuthSession{}, err
	}
	c.afterTransition(ctx, updated, core.EventForStatus(updated))
	return updated, nil
}

// RejectSession ends a session the user declined
func (c *Client) RejectSession(ctx context.Context, id, reason string) (core.AuthSession, error) {
	updated, err := c.store.Update(ctx, id, func(s *core.AuthSession) error {
		if s.Status.IsTerminal() {
			return terminalError(*s)
		}
		s.Status = core.StatusRejected
		s.Reason = reason
		s.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		return core.AuthSession{}, err
	}
	c.afterTransition(ctx, updated, core.NewSessionRejected(updated, reason))
	return updated, nil
}

// HandleCallback verifies a wallet callback against the stored session and
// completes or fails it. Every outcome is reported in the result.
func (c *Client) HandleCallback(ctx context.Context, resp core.AuthResponse) core.VerificationResult {
	result := c.handleCallback(ctx, resp)
	c.metrics.Verification(string(result.Code))
	return result
}

func (c *Client) handleCallback(ctx context.Context, resp core.AuthResponse) core.VerificationResult {
	log := c.logger.WithField("session_id", resp.SessionID)

	session, err := c.store.Get(ctx, resp.SessionID)
	if err != nil {
		if !errors.Is(err, core.ErrSessionNotFound) {
			log.WithError(err).Error("Failed to load session")
		}
		return core.Failure(core.AsError(err), nil)
	}
	if session.Status.IsTerminal() {
		return core.Failure(terminalError(session), session.Info())
	}
	if protocol.IsSessionExpired(session.ExpiresAt, c.now()) {
		if _, err := c.markExpired(ctx, session.ID); err != nil {
			log.WithError(err).Warn("Failed to expire session")
		}
		info := session.Info()
		info.Status = core.StatusExpired
		return core.Failure(core.ErrSessionExpired, info)
	}

	if !verifyWalletSignature(resp, session.ServiceID, session.Challenge) {
		log.Info("Callback rejected: invalid signature")
		return c.fail(ctx, session, core.ErrInvalidSignature)
	}

	subscriptionActive := false
	if c.cfg.SubscriptionMint != "" {
		if !c.checkSubscription(ctx, resp) {
			log.WithField("wallet", resp.Wallet).Info("Callback rejected: subscription not active")
			return c.fail(ctx, session, core.ErrSubscriptionNotActive)
		}
		subscriptionActive = true
	}

	completed, err := c.store.Update(ctx, session.ID, func(s *core.AuthSession) error {
		if s.Status.IsTerminal() {
			return terminalError(*s)
		}
		s.Status = core.StatusCompleted
		s.Wallet = resp.Wallet
		s.PublicKey = resp.PublicKey
		s.Signature = resp.Signature
		s.SubscriptionActive = subscriptionActive
		if resp.SubscriptionProof != nil {
			proof := *resp.SubscriptionProof
			s.SubscriptionProof = &proof
		}
		if resp.DeviceID != "" {
			if s.Metadata == nil {
				s.Metadata = map[string]string{}
			}
			s.Metadata["deviceId"] = resp.DeviceID
		}
		s.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		return core.Failure(core.AsError(err), session.Info())
	}

	log.WithField("wallet", completed.Wallet).Info("Session completed")
	c.afterTransition(ctx, completed, core.NewSessionCompleted(completed, subscriptionActive))

	return core.VerificationResult{
		Success:            true,
		Wallet:             completed.Wallet,
		SubscriptionActive: subscriptionActive,
		Session:            completed.Info(),
	}
}

func (c *Client) checkSubscription(ctx context.Context, resp core.AuthResponse) bool {
	if c.subscription != nil {
		return c.subscription.VerifySubscription(ctx, resp.Wallet, resp.SubscriptionProof)
	}
	return resp.SubscriptionProof.Validate(c.cfg.SubscriptionMint, c.now()) == nil
}

// fail durably marks the session failed so the challenge cannot be retried
func (c *Client) fail(ctx context.Context, session core.AuthSession, cause *core.Error) core.VerificationResult {
	failed, err := c.store.Update(ctx, session.ID, func(s *core.AuthSession) error {
		if s.Status.IsTerminal() {
			return errUnchanged
		}
		s.Status = core.StatusFailed
		s.FailureCode = cause.Code
		s.Reason = cause.Message
		s.UpdatedAt = c.now()
		return nil
	})
	switch {
	case err == nil:
		c.afterTransition(ctx, failed, core.NewSessionFailed(failed, cause))
		return core.Failure(cause, failed.Info())
	case errors.Is(err, errUnchanged):
	default:
		c.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to mark session failed")
	}
	return core.Failure(cause, session.Info())
}

// afterTransition records a status change and announces it
func (c *Client) afterTransition(ctx context.Context, session core.AuthSession, event core.AuthEvent) {
	if session.Status.IsTerminal() {
		c.scheduler.Cancel(session.ID)
	}
	c.metrics.Transition(string(session.Status))
	if event != nil {
		c.emit(ctx, event)
	}
}

// WaitForCompletion polls until the session completes, ends otherwise, or the
// timeout passes.
func (c *Client) WaitForCompletion(ctx context.Context, id string, opts WaitOptions) (core.AuthSession, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWaitTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		session, err := c.GetSession(waitCtx, id)
		switch {
		case err == nil:
			switch session.Status {
			case core.StatusCompleted:
				return session, nil
			case core.StatusFailed, core.StatusRejected, core.StatusExpired:
				return session, session.Failure()
			}
		case errors.Is(err, core.ErrSessionNotFound):
			return core.AuthSession{}, core.ErrSessionNotFound
		case waitCtx.Err() == nil:
			c.logger.WithError(err).WithField("session_id", id).Warn("Poll failed")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return core.AuthSession{}, ctx.Err()
			}
			return core.AuthSession{}, core.ErrTimeout
		case <-ticker.C:
		}
	}
}

// OnSessionEvent registers a listener for one session. Calling the returned
// function guarantees the listener is not invoked afterwards.
func (c *Client) OnSessionEvent(id string, listener Listener) func() {
	return c.listeners.add(id, listener)
}

// CancelSession deletes the session, its listeners and its expiry task
func (c *Client) CancelSession(ctx context.Context, id string) error {
	c.listeners.drop(id)
	c.scheduler.Cancel(id)
	if err := c.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	c.logger.WithField("session_id", id).Debug("Session cancelled")
	return nil
}

func (c *Client) emit(ctx context.Context, event core.AuthEvent) {
	for _, p := range c.listeners.dispatch(event) {
		c.logger.WithFields(logging.Fields{
			"session_id": event.SessionID(),
			"event":      event.Type(),
			"panic":      p,
		}).Error("Session listener panicked")
	}
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.metrics.EventPublishFailed()
		c.logger.WithError(err).WithFields(logging.Fields{
			"session_id": event.SessionID(),
			"event":      event.Type(),
		}).Warn("Failed to publish session event")
	}
}

// terminalError is the error reported for any operation on a finished session
func terminalError(s core.AuthSession) *core.Error {
	switch s.Status {
	case core.StatusCompleted:
		return core.ErrSessionAlreadyCompleted
	case core.StatusExpired:
		return core.ErrSessionExpired
	case core.StatusFailed:
		return core.NewError(core.CodeSessionAlreadyCompleted, "Session already failed")
	case core.StatusRejected:
		return core.NewError(core.CodeSessionAlreadyCompleted, "Session already rejected")
	}
	return core.ErrInvalidTransition
}

// verifyWalletSignature checks that publicKey belongs to wallet and signed the
// canonical message for this service, session and challenge.
func verifyWalletSignature(resp core.AuthResponse, serviceID, challenge string) bool {
	wallet, err := protocol.WalletAddressFromKey(resp.PublicKey)
	if err != nil || wallet != resp.Wallet {
		return false
	}
	message := protocol.CreateSignMessage(serviceID, resp.SessionID, challenge, resp.Timestamp)
	return protocol.VerifySignature(message, resp.Signature, resp.PublicKey)
}
