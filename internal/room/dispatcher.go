package room

import (
	"errors"
	"log/slog"
	"time"

	"github.com/user/aegis/internal/protocol"
	"github.com/user/aegis/internal/types"
)

// Effect is the single state change an inbound message asks for.
type Effect interface {
	effect()
}

type AppendTranscript struct {
	Entry types.TranscriptEntry
}

type RaiseAlert struct {
	Message string
}

type SetNotepad struct {
	Visible bool
}

type LoadSnapshot struct {
	Code string
}

func (AppendTranscript) effect() {}
func (RaiseAlert) effect()       {}
func (SetNotepad) effect()       {}
func (LoadSnapshot) effect()     {}

// Dispatcher maps inbound data messages to effects. It keeps no state
// between calls.
type Dispatcher struct {
	logger *slog.Logger
	newID  func() types.EntryID
	now    func() time.Time
}

type DispatcherOption func(*Dispatcher)

// WithEntryIDs overrides the transcript entry ID generator.
func WithEntryIDs(fn func() types.EntryID) DispatcherOption {
	return func(d *Dispatcher) { d.newID = fn }
}

// WithNow overrides the timestamp source for transcript entries.
func WithNow(fn func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = fn }
}

func NewDispatcher(logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger: logger,
		newID:  types.NewEntryID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch decodes msg and returns its effect, or nil when the message
// is malformed, carries an unknown type, or is an outbound-only tag.
// Failures are logged at debug level and never returned.
func (d *Dispatcher) Dispatch(msg types.InboundMessage) (eff Effect) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("dispatch panic", "from", string(msg.From), "panic", r)
			eff = nil
		}
	}()

	env, err := protocol.Decode(msg.Payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			d.logger.Debug("ignoring data message", "from", string(msg.From), "reason", err)
		} else {
			d.logger.Debug("dropping data message", "from", string(msg.From), "topic", msg.Topic, "bytes", len(msg.Payload), "error", err)
		}
		return nil
	}

	switch e := env.(type) {
	case protocol.Transcript:
		return AppendTranscript{Entry: types.TranscriptEntry{
			ID:        d.newID(),
			Timestamp: d.now(),
			Sender:    e.Sender,
			Text:      e.Text,
		}}
	case protocol.CrisisAlert:
		return RaiseAlert{Message: e.Message}
	case protocol.ToggleNotepad:
		return SetNotepad{Visible: e.Visible}
	case protocol.CodeSnapshot:
		return LoadSnapshot{Code: e.Code}
	}

	d.logger.Debug("ignoring outbound-only message", "from", string(msg.From), "type", string(env.Type()))
	return nil
}
