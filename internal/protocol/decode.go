package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/user/aegis/internal/types"
)

var (
	ErrInvalidUTF8  = errors.New("payload is not valid UTF-8")
	ErrMalformed    = errors.New("payload is not a JSON object")
	ErrMissingType  = errors.New("missing type field")
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing required field")
)

// Decode parses a raw data-message payload. It never panics; every
// failure is reported as an error wrapping one of the sentinel errors
// above.
func Decode(payload []byte) (Envelope, error) {
	if !utf8.Valid(payload) {
		return nil, ErrInvalidUTF8
	}
	if !gjson.ValidBytes(payload) {
		return nil, ErrMalformed
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, ErrMalformed
	}
	doc := objectFields(root)

	tag := doc.get("type")
	if !tag.Exists() || tag.Type != gjson.String {
		return nil, ErrMissingType
	}

	switch Type(tag.String()) {
	case TypeTranscript:
		text, err := stringField(doc, "text")
		if err != nil {
			return nil, err
		}
		return Transcript{Sender: senderField(doc), Text: text}, nil

	case TypeAlgoSubmit:
		code, err := stringField(doc, "code")
		if err != nil {
			return nil, err
		}
		return AlgoSubmit{Code: code}, nil

	case TypeCrisisAlert:
		msg := DefaultAlertMessage
		if m := doc.get("message"); m.Type == gjson.String && m.String() != "" {
			msg = m.String()
		}
		return CrisisAlert{Message: msg}, nil

	case TypeToggleNotepad:
		v := doc.get("visible")
		if v.Type != gjson.True && v.Type != gjson.False {
			return nil, fmt.Errorf("%w: visible", ErrMissingField)
		}
		return ToggleNotepad{Visible: v.Bool()}, nil

	case TypeCodeSnapshot:
		code, err := stringField(doc, "code")
		if err != nil {
			return nil, err
		}
		return CodeSnapshot{Code: code}, nil

	case TypeRecruiterTakeover:
		return RecruiterTakeover{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag.String())
}

// fields holds the members of a JSON object. A key repeated in the
// payload keeps its last value.
type fields map[string]gjson.Result

func objectFields(obj gjson.Result) fields {
	f := make(fields)
	obj.ForEach(func(key, value gjson.Result) bool {
		f[key.String()] = value
		return true
	})
	return f
}

// get returns the member name, or a result that does not exist.
func (f fields) get(name string) gjson.Result {
	return f[name]
}

func stringField(doc fields, name string) (string, error) {
	f := doc.get(name)
	if f.Type != gjson.String {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return f.String(), nil
}

// senderField falls back to SYSTEM when the sender is absent, not a
// string, or outside the known roles.
func senderField(doc fields) types.Sender {
	f := doc.get("sender")
	if f.Type != gjson.String {
		return types.SenderSystem
	}
	if s, ok := types.ParseSender(f.String()); ok {
		return s
	}
	return types.SenderSystem
}
