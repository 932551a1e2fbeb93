package core

// EventType names an AuthEvent variant on the wire.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventSessionScanned   EventType = "session_scanned"
	EventSessionConfirmed EventType = "session_confirmed"
	EventSessionCompleted EventType = "session_completed"
	EventSessionExpired   EventType = "session_expired"
	EventSessionRejected  EventType = "session_rejected"
	EventSessionFailed    EventType = "session_failed"
)

// AuthEvent is a lifecycle notification. The set of implementations is closed;
// listeners switch on the concrete type.
type AuthEvent interface {
	Type() EventType
	SessionID() string
	Snapshot() AuthSession
	isAuthEvent()
}

type baseEvent struct {
	Session AuthSession
}

func (e baseEvent) SessionID() string     { return e.Session.ID }
func (e baseEvent) Snapshot() AuthSession { return e.Session }
func (baseEvent) isAuthEvent()            {}

type SessionCreated struct{ baseEvent }

type SessionScanned struct{ baseEvent }

type SessionConfirmed struct{ baseEvent }

type SessionCompleted struct {
	baseEvent
	Wallet             string
	SubscriptionActive bool
}

type SessionExpired struct{ baseEvent }

type SessionRejected struct {
	baseEvent
	Reason string
}

type SessionFailed struct {
	baseEvent
	Err *Error
}

func (SessionCreated) Type() EventType   { return EventSessionCreated }
func (SessionScanned) Type() EventType   { return EventSessionScanned }
func (SessionConfirmed) Type() EventType { return EventSessionConfirmed }
func (SessionCompleted) Type() EventType { return EventSessionCompleted }
func (SessionExpired) Type() EventType   { return EventSessionExpired }
func (SessionRejected) Type() EventType  { return EventSessionRejected }
func (SessionFailed) Type() EventType    { return EventSessionFailed }

func NewSessionCreated(s AuthSession) SessionCreated {
	return SessionCreated{baseEvent{s}}
}

func NewSessionScanned(s AuthSession) SessionScanned {
	return SessionScanned{baseEvent{s}}
}

func NewSessionConfirmed(s AuthSession) SessionConfirmed {
	return SessionConfirmed{baseEvent{s}}
}

func NewSessionCompleted(s AuthSession, subscriptionActive bool) SessionCompleted {
	return SessionCompleted{baseEvent: baseEvent{s}, Wallet: s.Wallet, SubscriptionActive: subscriptionActive}
}

func NewSessionExpired(s AuthSession) SessionExpired {
	return SessionExpired{baseEvent{s}}
}

func NewSessionRejected(s AuthSession, reason string) SessionRejected {
	return SessionRejected{baseEvent: baseEvent{s}, Reason: reason}
}

func NewSessionFailed(s AuthSession, err *Error) SessionFailed {
	return SessionFailed{baseEvent: baseEvent{s}, Err: err}
}

// EventForStatus returns the event announcing that s entered its current
// status, or nil for statuses without an event of their own.
func EventForStatus(s AuthSession) AuthEvent {
	switch s.Status {
	case StatusPending:
		return NewSessionCreated(s)
	case StatusScanned:
		return NewSessionScanned(s)
	case StatusConfirmed:
		return NewSessionConfirmed(s)
	case StatusCompleted:
		return NewSessionCompleted(s, s.SubscriptionActive)
	case StatusExpired:
		return NewSessionExpired(s)
	case StatusRejected:
		return NewSessionRejected(s, s.Reason)
	case StatusFailed:
		return NewSessionFailed(s, s.Failure())
	}
	return nil
}
