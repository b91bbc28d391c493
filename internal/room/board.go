package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/user/aegis/internal/types"
)

type NoticeKind string

const (
	// KindAlert is the crisis banner. At most one is active.
	KindAlert NoticeKind = "alert"
	// KindHint is an assistant hint. Up to BoardConfig.MaxHints are active.
	KindHint NoticeKind = "hint"
)

type Notice struct {
	ID        types.NoticeID `json:"id"`
	Kind      NoticeKind     `json:"kind"`
	Message   string         `json:"message"`
	RaisedAt  time.Time      `json:"raised_at"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
}

type NoticeEventType string

const (
	NoticeRaised    NoticeEventType = "raised"
	NoticeDismissed NoticeEventType = "dismissed"
)

type NoticeEvent struct {
	Type   NoticeEventType `json:"type"`
	Notice Notice          `json:"notice"`
}

type BoardConfig struct {
	AlertTTL time.Duration
	HintTTL  time.Duration
	MaxHints int
}

// DefaultBoardConfig matches the room UI: banners last 8s, hints 10s,
// three hints on screen.
func DefaultBoardConfig() BoardConfig {
	return BoardConfig{
		AlertTTL: 8 * time.Second,
		HintTTL:  10 * time.Second,
		MaxHints: 3,
	}
}

type activeNotice struct {
	notice Notice
	timer  clockwork.Timer
}

// Board is the view-owned notice queue. Subscribers receive raise and
// dismiss events on bounded channels; a subscriber that falls behind
// loses events instead of stalling the room.
type Board struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	cfg    BoardConfig
	alert  *activeNotice
	hints  []*activeNotice
	subs   map[int]chan NoticeEvent
	nextID int
	closed bool
}

func NewBoard(clk clockwork.Clock, cfg BoardConfig) *Board {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if cfg.MaxHints <= 0 {
		cfg.MaxHints = 1
	}
	return &Board{
		clock: clk,
		cfg:   cfg,
		subs:  make(map[int]chan NoticeEvent),
	}
}

// Raise posts a notice. A new alert replaces the current one; a hint
// beyond MaxHints evicts the oldest hint. Both evictions are reported
// as dismiss events.
func (b *Board) Raise(kind NoticeKind, message string) Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	ttl := b.cfg.HintTTL
	if kind == KindAlert {
		ttl = b.cfg.AlertTTL
	}
	n := Notice{
		ID:       types.NewNoticeID(),
		Kind:     kind,
		Message:  message,
		RaisedAt: now,
	}
	if ttl > 0 {
		n.ExpiresAt = now.Add(ttl)
	}
	if b.closed {
		return n
	}

	active := &activeNotice{notice: n}
	switch kind {
	case KindAlert:
		if b.alert != nil {
			b.drop(b.alert)
		}
		b.alert = active
	default:
		for len(b.hints) >= b.cfg.MaxHints {
			oldest := b.hints[0]
			b.hints = b.hints[1:]
			b.drop(oldest)
		}
		b.hints = append(b.hints, active)
	}

	if ttl > 0 {
		id := n.ID
		active.timer = b.clock.AfterFunc(ttl, func() { b.Dismiss(id) })
	}
	b.publish(NoticeEvent{Type: NoticeRaised, Notice: n})
	return n
}

// Dismiss removes an active notice. It reports false when the notice
// has already expired or been replaced.
func (b *Board) Dismiss(id types.NoticeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.alert != nil && b.alert.notice.ID == id {
		b.drop(b.alert)
		b.alert = nil
		return true
	}
	for i, h := range b.hints {
		if h.notice.ID == id {
			b.hints = append(b.hints[:i], b.hints[i+1:]...)
			b.drop(h)
			return true
		}
	}
	return false
}

// drop stops the notice's timer and announces the dismissal. Caller
// holds b.mu.
func (b *Board) drop(a *activeNotice) {
	if a.timer != nil {
		a.timer.Stop()
	}
	b.publish(NoticeEvent{Type: NoticeDismissed, Notice: a.notice})
}

// publish fans an event out without blocking. Caller holds b.mu.
func (b *Board) publish(ev NoticeEvent) {
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Active returns the alert (if any) followed by hints, oldest first.
func (b *Board) Active() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Notice, 0, len(b.hints)+1)
	if b.alert != nil {
		out = append(out, b.alert.notice)
	}
	for _, h := range b.hints {
		out = append(out, h.notice)
	}
	return out
}

// Subscribe registers a consumer. The returned cancel func unregisters
// it and closes the channel; it is safe to call more than once.
func (b *Board) Subscribe(buffer int) (<-chan NoticeEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan NoticeEvent, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Close stops all timers and closes every subscriber channel.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	if b.alert != nil && b.alert.timer != nil {
		b.alert.timer.Stop()
	}
	for _, h := range b.hints {
		if h.timer != nil {
			h.timer.Stop()
		}
	}
	b.alert = nil
	b.hints = nil
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
