package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/user/aegis/internal/types"
)

type transcriptFrame struct {
	Type   Type         `json:"type"`
	Sender types.Sender `json:"sender"`
	Text   string       `json:"text"`
}

type codeFrame struct {
	Type Type   `json:"type"`
	Code string `json:"code"`
}

type alertFrame struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type notepadFrame struct {
	Type    Type `json:"type"`
	Visible bool `json:"visible"`
}

type bareFrame struct {
	Type Type `json:"type"`
}

// Encode serializes an envelope to its wire form.
func Encode(env Envelope) ([]byte, error) {
	var frame any
	switch e := env.(type) {
	case Transcript:
		frame = transcriptFrame{Type: TypeTranscript, Sender: e.Sender, Text: e.Text}
	case AlgoSubmit:
		frame = codeFrame{Type: TypeAlgoSubmit, Code: e.Code}
	case CodeSnapshot:
		frame = codeFrame{Type: TypeCodeSnapshot, Code: e.Code}
	case CrisisAlert:
		frame = alertFrame{Type: TypeCrisisAlert, Message: e.Message}
	case ToggleNotepad:
		frame = notepadFrame{Type: TypeToggleNotepad, Visible: e.Visible}
	case RecruiterTakeover:
		frame = bareFrame{Type: TypeRecruiterTakeover}
	default:
		return nil, fmt.Errorf("encode: unsupported envelope %T", env)
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Type(), err)
	}
	return data, nil
}

// EncodeSubmission builds the ALGO_SUBMIT payload for a code submission.
func EncodeSubmission(sub types.CodeSubmission) ([]byte, error) {
	return Encode(AlgoSubmit{Code: sub.Code})
}
