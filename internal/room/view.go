package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/user/aegis/internal/protocol"
	"github.com/user/aegis/internal/types"
)

const (
	WelcomeText  = "Neural link established. Waiting for AI interviewer..."
	TakeoverText = "RECRUITER TAKEOVER: Human interviewer has taken control. AI is now paused."
	IdleHintText = "Agent: Is everything okay? Do you need a hint?"
)

var (
	ErrEmptySubmission = errors.New("empty code submission")
	ErrNoSession       = errors.New("room has no session provider")
)

type Config struct {
	Board     BoardConfig
	IdleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Board:     DefaultBoardConfig(),
		IdleAfter: 30 * time.Second,
	}
}

// State is a point-in-time copy of a view.
type State struct {
	Room         types.RoomName          `json:"room"`
	Mode         ControlMode             `json:"mode"`
	Panel        Panel                   `json:"panel"`
	Notepad      string                  `json:"notepad"`
	Idle         bool                    `json:"idle"`
	Connection   types.ConnectionState   `json:"connection"`
	Participants []types.Participant     `json:"participants"`
	Transcript   []types.TranscriptEntry `json:"transcript"`
	Notices      []Notice                `json:"notices"`
}

// View is the state of one interview room. Inbound messages must be fed
// through HandleInbound from a single goroutine to keep their order;
// all methods are safe to call concurrently.
type View struct {
	name       types.RoomName
	provider   types.SessionProvider
	dispatcher *Dispatcher
	board      *Board
	clock      clockwork.Clock
	cfg        Config
	logger     *slog.Logger
	hooks      []func(types.TranscriptEntry)
	onTakeover []func(types.RoomName)

	mu           sync.Mutex
	transcript   []types.TranscriptEntry
	mode         ControlMode
	panel        Panel
	notepad      string
	lastActivity time.Time
	idle         bool
}

type Option func(*View)

func WithConfig(cfg Config) Option {
	return func(v *View) { v.cfg = cfg }
}

func WithClock(c clockwork.Clock) Option {
	return func(v *View) { v.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(v *View) { v.logger = l }
}

func WithDispatcher(d *Dispatcher) Option {
	return func(v *View) { v.dispatcher = d }
}

// WithEntryHook registers fn to be called, outside the view lock, for
// every entry appended to the transcript.
func WithEntryHook(fn func(types.TranscriptEntry)) Option {
	return func(v *View) { v.hooks = append(v.hooks, fn) }
}

// WithTakeoverHook registers fn to be called once, when a human takes
// over the room.
func WithTakeoverHook(fn func(types.RoomName)) Option {
	return func(v *View) { v.onTakeover = append(v.onTakeover, fn) }
}

// NewView creates a room view. provider may be nil for a view that only
// records local actions; publishing then fails with ErrNoSession.
func NewView(name types.RoomName, provider types.SessionProvider, opts ...Option) *View {
	v := &View{
		name:     name,
		provider: provider,
		cfg:      DefaultConfig(),
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("room", string(name))
	if v.dispatcher == nil {
		v.dispatcher = NewDispatcher(v.logger, WithNow(v.clock.Now))
	}
	v.board = NewBoard(v.clock, v.cfg.Board)
	v.lastActivity = v.clock.Now()
	v.transcript = []types.TranscriptEntry{v.newEntry(types.SenderSystem, WelcomeText)}
	return v
}

func (v *View) Name() types.RoomName { return v.name }

func (v *View) Board() *Board { return v.board }

func (v *View) Provider() types.SessionProvider { return v.provider }

// HandleInbound applies the effect of one inbound data message. It
// never panics and never returns an error.
func (v *View) HandleInbound(msg types.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("applying data message panicked", "from", string(msg.From), "panic", r)
		}
	}()
	v.apply(v.dispatcher.Dispatch(msg))
}

func (v *View) apply(eff Effect) {
	switch e := eff.(type) {
	case AppendTranscript:
		v.append(e.Entry)
	case RaiseAlert:
		v.board.Raise(KindAlert, e.Message)
	case SetNotepad:
		v.mu.Lock()
		if e.Visible {
			v.panel = PanelNotepad
		} else if v.panel == PanelNotepad {
			v.panel = PanelNone
		}
		v.mu.Unlock()
	case LoadSnapshot:
		v.mu.Lock()
		v.notepad = e.Code
		v.panel = PanelNotepad
		v.mu.Unlock()
	}
}

func (v *View) newEntry(sender types.Sender, text string) types.TranscriptEntry {
	return types.TranscriptEntry{
		ID:        types.NewEntryID(),
		Timestamp: v.clock.Now(),
		Sender:    sender,
		Text:      text,
	}
}

func (v *View) append(entry types.TranscriptEntry) {
	v.mu.Lock()
	v.transcript = append(v.transcript, entry)
	v.mu.Unlock()
	for _, fn := range v.hooks {
		fn(entry)
	}
}

// SendChat records a line typed by the local operator. Blank lines are
// ignored and reported as false.
func (v *View) SendChat(text string) (types.TranscriptEntry, bool) {
	if strings.TrimSpace(text) == "" {
		return types.TranscriptEntry{}, false
	}
	v.Touch()
	entry := v.newEntry(types.SenderYou, text)
	v.append(entry)
	return entry, true
}

// SubmitCode records the submission locally, then publishes it as
// ALGO_SUBMIT. The transcript entry is kept even if publishing fails.
func (v *View) SubmitCode(ctx context.Context, code string) (types.TranscriptEntry, error) {
	if strings.TrimSpace(code) == "" {
		return types.TranscriptEntry{}, ErrEmptySubmission
	}
	v.Touch()
	sub := types.CodeSubmission{Code: code, SubmittedAt: v.clock.Now()}
	entry := v.newEntry(types.SenderCode, sub.Code)
	v.append(entry)

	payload, err := protocol.EncodeSubmission(sub)
	if err != nil {
		return entry, err
	}
	if err := v.publish(ctx, payload); err != nil {
		return entry, fmt.Errorf("publish code submission: %w", err)
	}
	return entry, nil
}

// EngageTakeover hands the interview to the human recruiter. It reports
// false if takeover was already engaged.
func (v *View) EngageTakeover(ctx context.Context) (bool, error) {
	v.mu.Lock()
	next, ok := v.mode.Transition(ModeHuman)
	v.mode = next
	v.mu.Unlock()
	if !ok {
		return false, nil
	}

	v.append(v.newEntry(types.SenderSystem, TakeoverText))
	for _, fn := range v.onTakeover {
		fn(v.name)
	}

	payload, err := protocol.Encode(protocol.RecruiterTakeover{})
	if err != nil {
		return true, err
	}
	if err := v.publish(ctx, payload); err != nil {
		return true, fmt.Errorf("publish takeover: %w", err)
	}
	return true, nil
}

func (v *View) publish(ctx context.Context, payload []byte) error {
	if v.provider == nil {
		return ErrNoSession
	}
	return v.provider.Publish(ctx, payload, types.PublishOptions{Reliable: true})
}

// TogglePanel opens p, or closes it if it is already open, and returns
// the panel now shown.
func (v *View) TogglePanel(p Panel) Panel {
	v.Touch()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.panel = v.panel.toggle(p)
	return v.panel
}

// Touch records operator activity and clears the idle state.
func (v *View) Touch() {
	v.mu.Lock()
	v.lastActivity = v.clock.Now()
	v.idle = false
	v.mu.Unlock()
}

// CheckIdle marks the room idle once no activity has been seen for the
// configured threshold, posting a hint on the transition. It reports
// whether the transition happened on this call.
func (v *View) CheckIdle(now time.Time) bool {
	if v.cfg.IdleAfter <= 0 {
		return false
	}
	v.mu.Lock()
	if v.idle || now.Sub(v.lastActivity) <= v.cfg.IdleAfter {
		v.mu.Unlock()
		return false
	}
	v.idle = true
	v.mu.Unlock()

	v.board.Raise(KindHint, IdleHintText)
	return true
}

func (v *View) Mode() ControlMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

func (v *View) Panel() Panel {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.panel
}

// Transcript returns a copy of the transcript in arrival order.
func (v *View) Transcript() []types.TranscriptEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]types.TranscriptEntry, len(v.transcript))
	copy(out, v.transcript)
	return out
}

// Len returns the number of transcript entries.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.transcript)
}

func (v *View) Snapshot() State {
	s := State{
		Room:       v.name,
		Connection: types.StateDisconnected,
		Notices:    v.board.Active(),
	}
	if v.provider != nil {
		s.Connection = v.provider.State()
		s.Participants = v.provider.Participants()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	s.Mode = v.mode
	s.Panel = v.panel
	s.Notepad = v.notepad
	s.Idle = v.idle
	s.Transcript = make([]types.TranscriptEntry, len(v.transcript))
	copy(s.Transcript, v.transcript)
	return s
}

// Run feeds the provider's inbound stream into the view until ctx is
// cancelled or the stream closes.
func (v *View) Run(ctx context.Context) error {
	if v.provider == nil {
		return ErrNoSession
	}
	msgs := v.provider.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			v.HandleInbound(msg)
		}
	}
}

// Close releases the view's timers and notice subscribers.
func (v *View) Close() {
	v.board.Close()
}
