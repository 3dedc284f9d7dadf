package domain

// EscalationReason says why a conversation was handed to operators.
type EscalationReason string

const (
	EscalationPayment      EscalationReason = "payment"
	EscalationHumanForward EscalationReason = "human_forward"
	EscalationFallback     EscalationReason = "fallback"
)

// Escalation is an unresolved customer message routed to human operators.
// Roster and webhook come from the tenant snapshot the message was resolved
// with.
type Escalation struct {
	SessionID     string           `json:"sessionId"`
	TenantID      string           `json:"tenantId"`
	Customer      string           `json:"customer"`
	Message       string           `json:"message"`
	Reason        EscalationReason `json:"reason"`
	AdminRoster   []string         `json:"-"`
	WebhookTarget string           `json:"-"`
}
