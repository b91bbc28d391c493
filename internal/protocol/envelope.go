// Package protocol implements the JSON data-message format exchanged
// between room participants. Decoded messages are a closed set of Go
// types implementing Envelope; anything else is an error.
package protocol

import (
	"github.com/user/aegis/internal/types"
)

// Type is the wire discriminator carried in the "type" field.
type Type string

const (
	TypeTranscript        Type = "TRANSCRIPT"
	TypeAlgoSubmit        Type = "ALGO_SUBMIT"
	TypeCrisisAlert       Type = "CRISIS_ALERT"
	TypeToggleNotepad     Type = "TOGGLE_NOTEPAD"
	TypeCodeSnapshot      Type = "CODE_SNAPSHOT"
	TypeRecruiterTakeover Type = "RECRUITER_TAKEOVER"
)

// DefaultAlertMessage is used when a CRISIS_ALERT carries no message.
const DefaultAlertMessage = "SYSTEM CRITICAL"

// Envelope is one decoded data message.
type Envelope interface {
	Type() Type
	envelope()
}

// Transcript is a conversational line relayed by the agent side.
type Transcript struct {
	Sender types.Sender
	Text   string
}

// AlgoSubmit carries candidate code to the agent. Outbound only.
type AlgoSubmit struct {
	Code string
}

// CrisisAlert asks the view to raise a transient banner.
type CrisisAlert struct {
	Message string
}

// ToggleNotepad shows or hides the notepad panel.
type ToggleNotepad struct {
	Visible bool
}

// CodeSnapshot replaces the notepad contents and opens the notepad.
type CodeSnapshot struct {
	Code string
}

// RecruiterTakeover tells the agent a human has taken over. Outbound only.
type RecruiterTakeover struct{}

func (Transcript) Type() Type        { return TypeTranscript }
func (AlgoSubmit) Type() Type        { return TypeAlgoSubmit }
func (CrisisAlert) Type() Type       { return TypeCrisisAlert }
func (ToggleNotepad) Type() Type     { return TypeToggleNotepad }
func (CodeSnapshot) Type() Type      { return TypeCodeSnapshot }
func (RecruiterTakeover) Type() Type { return TypeRecruiterTakeover }

func (Transcript) envelope()        {}
func (AlgoSubmit) envelope()        {}
func (CrisisAlert) envelope()       {}
func (ToggleNotepad) envelope()     {}
func (CodeSnapshot) envelope()      {}
func (RecruiterTakeover) envelope() {}
