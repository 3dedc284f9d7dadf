package domain

import "time"

// SessionState is a node of the connection state machine.
type SessionState string

const (
	StateStarting        SessionState = "starting"
	StateAwaitingPairing SessionState = "awaiting_pairing"
	StateConnected       SessionState = "connected"
	StateDisconnected    SessionState = "disconnected"
	StateLoggedOut       SessionState = "logged_out"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateLoggedOut
}

// SessionInfo is a point-in-time view of a session for the control plane.
type SessionInfo struct {
	ID               string       `json:"id"`
	TenantID         string       `json:"tenantId"`
	State            SessionState `json:"state"`
	PairingChallenge string       `json:"pairingChallenge,omitempty"`
	QRDataURL        string       `json:"qr,omitempty"`
	Attempts         int          `json:"reconnectAttempts,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}
