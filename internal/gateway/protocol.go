package gateway

import (
	"encoding/json"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
)

// ProtocolVersion is the console protocol spoken on /ws.
const ProtocolVersion = 1

// Frame kinds. A console sends calls, the bot answers each with a reply
// and pushes session activity on its own.
const (
	KindCall  = "call"
	KindReply = "reply"
	KindPush  = "push"
)

// methodAttach is the first call of every console connection.
const methodAttach = "attach"

// Push topics.
const (
	TopicNonce        = "attach.nonce"
	TopicSessionState = "session.state"
	TopicEscalation   = "escalation"
	TopicMessage      = "message.received"
)

// consoleTopics lists what an attached console receives.
var consoleTopics = []string{TopicSessionState, TopicEscalation, TopicMessage}

// Frame is one console message. Kind selects which fields are set.
type Frame struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`

	// call
	Method string          `json:"method,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`

	// reply
	OK     *bool           `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Fault  *Fault          `json:"fault,omitempty"`

	// push
	Topic string `json:"topic,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// Fault is a failed call, and the error body of the REST API.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Credentials carry the operator secret. Which field counts depends on
// the gateway auth mode.
type Credentials struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// Attach opens a console connection. Tenants narrows the pushes to those
// tenants' sessions; empty means every tenant.
type Attach struct {
	Protocol    int          `json:"protocol"`
	Console     string       `json:"console"`
	Version     string       `json:"version,omitempty"`
	Tenants     []string     `json:"tenants,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// Welcome answers an accepted attach with what the console can call and
// the sessions it can see right now.
type Welcome struct {
	Protocol int                  `json:"protocol"`
	Version  string               `json:"version"`
	Commit   string               `json:"commit,omitempty"`
	ConnID   string               `json:"connId"`
	Methods  []string             `json:"methods"`
	Topics   []string             `json:"topics"`
	Sessions []domain.SessionInfo `json:"sessions"`
}

func newCall(id, method string, args any) (Frame, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: KindCall, ID: id, Method: method, Args: raw}, nil
}

func newReply(id string, result any) (Frame, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Kind: KindReply, ID: id, OK: &ok, Result: raw}, nil
}

func newFault(id, code, message string) Frame {
	ok := false
	return Frame{Kind: KindReply, ID: id, OK: &ok, Fault: &Fault{Code: code, Message: message}}
}

func newPush(topic string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: KindPush, Topic: topic, Result: raw, Seq: seq}, nil
}
