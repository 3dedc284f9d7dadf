package domain

import (
	"strings"
	"time"
)

// MessageKind classifies the content of an inbound message.
type MessageKind string

const (
	MessageKindText     MessageKind = "text"
	MessageKindImage    MessageKind = "image"
	MessageKindAudio    MessageKind = "audio"
	MessageKindVideo    MessageKind = "video"
	MessageKindDocument MessageKind = "document"
	MessageKindSticker  MessageKind = "sticker"
)

// MediaKind is the transport-level type of an outbound attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
)

// ParseMediaKind validates a media kind name given by an operator.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch k := MediaKind(strings.ToLower(strings.TrimSpace(s))); k {
	case MediaImage, MediaDocument, MediaVideo, MediaAudio:
		return k, true
	}
	return "", false
}

// Media is a binary attachment. For image and video the outbound Body of the
// message is used as the caption, so both travel as one unit.
type Media struct {
	Kind     MediaKind `json:"kind"`
	Data     []byte    `json:"data,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Filename string    `json:"filename,omitempty"`
}

// InboundMessage is a message received from a customer on a session.
type InboundMessage struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionId"`
	From       string      `json:"from"`
	FromName   string      `json:"fromName,omitempty"`
	ChatID     string      `json:"chatId"`
	Kind       MessageKind `json:"kind"`
	Body       string      `json:"body"`
	QuotedBody string      `json:"quotedBody,omitempty"`
	Media      *Media      `json:"media,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// IsGroup reports whether the message came from a group chat.
func (m InboundMessage) IsGroup() bool {
	return strings.HasSuffix(m.ChatID, "@g.us")
}

// ReplyTarget returns the address replies should be sent to.
func (m InboundMessage) ReplyTarget() string {
	if m.ChatID != "" {
		return m.ChatID
	}
	return m.From
}

// ManualReplyMarker tags operator bulk messages. A customer reply quoting a
// tagged message is captured for the operators instead of being resolved.
const ManualReplyMarker = "###MANUAL_MESSAGE_REPLY_ID###"

// OutboundMessage is a message to be sent through a session.
type OutboundMessage struct {
	To    string `json:"to"`
	Body  string `json:"body,omitempty"`
	Media *Media `json:"media,omitempty"`
}

// IncomingCall is a voice or video call offered to a session.
type IncomingCall struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	Missed bool   `json:"missed,omitempty"`
}

// Presence is a chat-state indicator shown to the other party.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// JID turns a bare phone number into a user address. Values that already
// carry a server part are returned unchanged.
func JID(number string) string {
	number = strings.TrimSpace(number)
	if number == "" || strings.Contains(number, "@") {
		return number
	}
	return strings.TrimPrefix(number, "+") + "@s.whatsapp.net"
}

// PhoneNumber strips the server part and a leading "+" from a user
// address.
func PhoneNumber(jid string) string {
	jid = strings.TrimPrefix(strings.TrimSpace(jid), "+")
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}
