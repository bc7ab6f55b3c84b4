package ws

import (
	"time"

	"escrowd/room"
)

// Frame type discriminators on the wire.
const (
	TypeConnected    = "connected"
	TypeStateUpdate  = "state_update"
	TypeChatMessage  = "chat_message"
	TypeAdminMessage = "admin_message"
	TypeError        = "error"
	TypeWarning      = "warning"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Inbound is one client frame. Type selects the intent; the remaining fields
// are that intent's payload.
type Inbound struct {
	Type          string `json:"type"`
	Description   string `json:"description,omitempty"`
	Message       string `json:"message,omitempty"`
	SignedMessage string `json:"signed_message,omitempty"`
}

// Outbound is one server frame. Chat and admin lines carry their fields at
// the top level of the envelope.
type Outbound struct {
	Type           string         `json:"type"`
	Room           *room.Snapshot `json:"room,omitempty"`
	SenderID       string         `json:"sender_id,omitempty"`
	SenderUsername string         `json:"sender_username,omitempty"`
	Message        string         `json:"message,omitempty"`
	Timestamp      *time.Time     `json:"timestamp,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// messageFrame turns a transcript line into its wire envelope.
func messageFrame(msg room.Message) Outbound {
	ts := msg.Timestamp
	return Outbound{
		Type:           msg.Type,
		SenderID:       msg.SenderID,
		SenderUsername: msg.SenderUsername,
		Message:        msg.Message,
		Timestamp:      &ts,
	}
}
