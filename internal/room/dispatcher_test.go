package room

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/user/aegis/internal/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func inbound(payload string) types.InboundMessage {
	return types.InboundMessage{Payload: []byte(payload), From: "agent-1", ReceivedAt: time.Now()}
}

func TestDispatchHappyPath(t *testing.T) {
	d := NewDispatcher(discard)
	eff := d.Dispatch(inbound(`{"type":"TRANSCRIPT","sender":"AGENT","text":"Hello"}`))

	app, ok := eff.(AppendTranscript)
	if !ok {
		t.Fatalf("expected AppendTranscript, got %#v", eff)
	}
	if app.Entry.Sender != types.SenderAgent || app.Entry.Text != "Hello" {
		t.Errorf("unexpected entry %+v", app.Entry)
	}
	if app.Entry.ID == "" {
		t.Error("expected entry ID")
	}
}

func TestDispatchMalformedInputs(t *testing.T) {
	d := NewDispatcher(discard)
	inputs := map[string][]byte{
		"non-utf8":       {0xc3, 0x28, 0xa0, 0xa1},
		"not json":       []byte("not json"),
		"missing type":   []byte(`{"sender":"AGENT","text":"x"}`),
		"unknown type":   []byte(`{"type":"PING"}`),
		"missing text":   []byte(`{"type":"TRANSCRIPT","sender":"AGENT"}`),
		"outbound code":  []byte(`{"type":"ALGO_SUBMIT","code":"x"}`),
		"outbound human": []byte(`{"type":"RECRUITER_TAKEOVER"}`),
		"nil":            nil,
	}
	for name, payload := range inputs {
		t.Run(name, func(t *testing.T) {
			if eff := d.Dispatch(types.InboundMessage{Payload: payload}); eff != nil {
				t.Errorf("expected no effect, got %#v", eff)
			}
		})
	}
}

func TestDispatchIsStateless(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	d := NewDispatcher(discard,
		WithEntryIDs(func() types.EntryID { return "fixed" }),
		WithNow(func() time.Time { return at }),
	)
	msg := inbound(`{"type":"TRANSCRIPT","sender":"YOU","text":"same"}`)

	a := d.Dispatch(msg)
	b := d.Dispatch(msg)
	if a != b {
		t.Errorf("expected value-equal effects, got %#v and %#v", a, b)
	}

	// Mutating the first result must not leak into a later dispatch.
	first := a.(AppendTranscript)
	first.Entry.Text = "changed"
	if c := d.Dispatch(msg).(AppendTranscript); c.Entry.Text != "same" {
		t.Errorf("dispatch shares state between calls: %q", c.Entry.Text)
	}
}

func TestDispatchAuxiliaryEffects(t *testing.T) {
	d := NewDispatcher(discard)

	if eff, ok := d.Dispatch(inbound(`{"type":"CRISIS_ALERT","message":"DB ON FIRE"}`)).(RaiseAlert); !ok || eff.Message != "DB ON FIRE" {
		t.Errorf("unexpected alert effect %#v", eff)
	}
	if eff, ok := d.Dispatch(inbound(`{"type":"TOGGLE_NOTEPAD","visible":true}`)).(SetNotepad); !ok || !eff.Visible {
		t.Errorf("unexpected notepad effect %#v", eff)
	}
	if eff, ok := d.Dispatch(inbound(`{"type":"CODE_SNAPSHOT","code":"print(1)"}`)).(LoadSnapshot); !ok || eff.Code != "print(1)" {
		t.Errorf("unexpected snapshot effect %#v", eff)
	}
}
