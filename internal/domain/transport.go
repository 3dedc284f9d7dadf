package domain

import "context"

// EventKind discriminates transport events.
type EventKind string

const (
	EventPairingChallenge EventKind = "pairing_challenge"
	EventConnectionOpened EventKind = "connection_opened"
	EventConnectionClosed EventKind = "connection_closed"
	EventInboundMessage   EventKind = "inbound_message"
	EventIncomingCall     EventKind = "incoming_call"
)

// DisconnectReason explains why a transport connection closed.
type DisconnectReason string

const (
	ReasonLoggedOut       DisconnectReason = "logged_out"
	ReasonConnectionLost  DisconnectReason = "connection_lost"
	ReasonRestartRequired DisconnectReason = "restart_required"
	ReasonTimedOut        DisconnectReason = "timed_out"
)

// TransportEvent is one item of the event stream a transport connection emits.
type TransportEvent struct {
	Kind      EventKind        `json:"kind"`
	Challenge string           `json:"challenge,omitempty"`
	Reason    DisconnectReason `json:"reason,omitempty"`
	Message   *InboundMessage  `json:"message,omitempty"`
	Call      *IncomingCall    `json:"call,omitempty"`
}

// Transport is the chat-messaging capability a session runs on top of.
// The protocol itself (handshake, encryption, framing) lives behind it.
type Transport interface {
	// Connect opens a connection for the session. The returned channel
	// delivers events until the connection ends, then is closed.
	Connect(ctx context.Context, sessionID string) (<-chan TransportEvent, error)

	// Send delivers an outbound message on an open connection.
	Send(ctx context.Context, sessionID string, msg OutboundMessage) error

	// SendPresence updates the chat-state shown to a recipient.
	SendPresence(ctx context.Context, sessionID, to string, p Presence) error

	// RejectIncomingCall declines a call offer.
	RejectIncomingCall(ctx context.Context, sessionID string, call IncomingCall) error

	// SaveCredentials persists pairing material for the session.
	SaveCredentials(ctx context.Context, sessionID string) error

	// DeleteCredentials removes any stored pairing material for the session.
	DeleteCredentials(ctx context.Context, sessionID string) error

	// Disconnect closes the session's connection without logging out.
	Disconnect(ctx context.Context, sessionID string) error
}
