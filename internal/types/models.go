// internal/types/models.go
package types

import (
	"time"
)

// Sender is the role attached to a transcript line.
type Sender string

const (
	SenderAgent  Sender = "AGENT"
	SenderYou    Sender = "YOU"
	SenderSystem Sender = "SYSTEM"
	SenderCode   Sender = "CODE"
)

// ParseSender maps a wire value to a Sender. The second result is false
// for anything outside the fixed set.
func ParseSender(s string) (Sender, bool) {
	switch Sender(s) {
	case SenderAgent, SenderYou, SenderSystem, SenderCode:
		return Sender(s), true
	}
	return "", false
}

type TranscriptEntry struct {
	ID        EntryID   `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
}

// InboundMessage is one data message delivered by the session provider.
type InboundMessage struct {
	Payload    []byte
	From       ParticipantID
	Topic      string
	ReceivedAt time.Time
}

type CodeSubmission struct {
	Code        string    `json:"code"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
)

// TrackInfo describes a media track a participant advertises. Media
// itself never flows through this module.
type TrackInfo struct {
	Source     string `json:"source"`
	Subscribed bool   `json:"subscribed"`
}

type Participant struct {
	Identity ParticipantID `json:"identity"`
	Kind     string        `json:"kind,omitempty"`
	Tracks   []TrackInfo   `json:"tracks,omitempty"`
	JoinedAt time.Time     `json:"joined_at"`
}

// PublishOptions controls how an outbound data message is sent.
type PublishOptions struct {
	Reliable bool
	Topic    string
}
