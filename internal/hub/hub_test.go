package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/user/aegis/internal/room"
	"github.com/user/aegis/internal/types"
)

type stubProvider struct {
	ch     chan types.InboundMessage
	mu     sync.Mutex
	closed bool
}

func newStub() *stubProvider {
	return &stubProvider{ch: make(chan types.InboundMessage, 64)}
}

func (s *stubProvider) State() types.ConnectionState          { return types.StateConnected }
func (s *stubProvider) Messages() <-chan types.InboundMessage { return s.ch }
func (s *stubProvider) Participants() []types.Participant     { return nil }

func (s *stubProvider) Publish(context.Context, []byte, types.PublishOptions) error { return nil }

func (s *stubProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubProvider) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New(2, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	h.Start(context.Background())
	t.Cleanup(h.Stop)
	return h
}

func TestHubDeliversInOrder(t *testing.T) {
	h := newTestHub(t)
	p := newStub()
	view, err := h.Open("alpha", p)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 30; i++ {
		p.ch <- types.InboundMessage{Payload: []byte(fmt.Sprintf(`{"type":"TRANSCRIPT","sender":"AGENT","text":"%d"}`, i))}
		p.ch <- types.InboundMessage{Payload: []byte("garbage")}
	}

	deadline := time.Now().Add(2 * time.Second)
	for view.Len() < 31 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	tr := view.Transcript()
	if len(tr) != 31 {
		t.Fatalf("expected 31 entries, got %d", len(tr))
	}
	for i := 0; i < 30; i++ {
		if tr[i+1].Text != fmt.Sprint(i) {
			t.Fatalf("entry %d out of order: %q", i, tr[i+1].Text)
		}
	}
}

func TestHubOpenDuplicate(t *testing.T) {
	h := newTestHub(t)
	if _, err := h.Open("dup", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Open("dup", nil); !errors.Is(err, ErrRoomExists) {
		t.Errorf("expected ErrRoomExists, got %v", err)
	}
}

func TestHubCloseReleasesProvider(t *testing.T) {
	h := newTestHub(t)
	p := newStub()
	if _, err := h.Open("gone", p); err != nil {
		t.Fatal(err)
	}
	if err := h.Close("gone"); err != nil {
		t.Fatal(err)
	}
	if !p.isClosed() {
		t.Error("expected provider to be closed")
	}
	if _, ok := h.Get("gone"); ok {
		t.Error("expected room to be removed")
	}
	if err := h.Close("gone"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestHubListSorted(t *testing.T) {
	h := newTestHub(t)
	for _, name := range []types.RoomName{"charlie", "alpha", "bravo"} {
		if _, err := h.Open(name, nil); err != nil {
			t.Fatal(err)
		}
	}
	views := h.List()
	if len(views) != 3 {
		t.Fatalf("expected 3 rooms, got %d", len(views))
	}
	for i, want := range []types.RoomName{"alpha", "bravo", "charlie"} {
		if views[i].Name() != want {
			t.Errorf("position %d: expected %s, got %s", i, want, views[i].Name())
		}
	}
}

func TestHubOnOpenAndViewOptions(t *testing.T) {
	cfg := room.DefaultConfig()
	cfg.IdleAfter = 0
	h := New(1, WithViewOptions(room.WithConfig(cfg)), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	h.Start(context.Background())
	defer h.Stop()

	var opened []types.RoomName
	h.OnOpen(func(v *room.View) { opened = append(opened, v.Name()) })

	view, err := h.Open("hooked", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(opened) != 1 || opened[0] != "hooked" {
		t.Errorf("expected open hook, got %v", opened)
	}
	if view.CheckIdle(time.Now().Add(time.Hour)) {
		t.Error("expected idle detection disabled by view options")
	}
}

func TestHubStopped(t *testing.T) {
	h := New(1)
	if _, err := h.Open("early", nil); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped before Start, got %v", err)
	}
	h.Start(context.Background())
	p := newStub()
	if _, err := h.Open("r", p); err != nil {
		t.Fatal(err)
	}
	h.Stop()
	if !p.isClosed() {
		t.Error("expected Stop to close providers")
	}
	if _, err := h.Open("late", nil); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestHubStreamClose(t *testing.T) {
	h := newTestHub(t)
	p := newStub()
	view, err := h.Open("closing", p)
	if err != nil {
		t.Fatal(err)
	}
	p.ch <- types.InboundMessage{Payload: []byte(`{"type":"CRISIS_ALERT"}`)}
	close(p.ch)

	if !h.Queue.WaitIdle(time.Second) {
		t.Fatal("timed out")
	}
	// The pump exits first; the effect may still be on its way.
	deadline := time.Now().Add(time.Second)
	for len(view.Snapshot().Notices) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	notices := view.Snapshot().Notices
	if len(notices) != 1 || notices[0].Message != "SYSTEM CRITICAL" {
		t.Errorf("expected default alert, got %+v", notices)
	}
}

func TestHubReopenDropsQueuedMessages(t *testing.T) {
	h := New(1, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	h.Start(context.Background())
	defer h.Stop()

	// Room "a" holds the only processing slot until released.
	release := make(chan struct{})
	blocked := make(chan struct{})
	pa := newStub()
	hook := room.WithEntryHook(func(e types.TranscriptEntry) {
		if e.Text == "block" {
			close(blocked)
			<-release
		}
	})
	if _, err := h.Open("a", pa, hook); err != nil {
		t.Fatal(err)
	}
	pa.ch <- types.InboundMessage{Payload: []byte(`{"type":"TRANSCRIPT","sender":"AGENT","text":"block"}`)}
	<-blocked

	pb := newStub()
	if _, err := h.Open("b", pb); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		pb.ch <- types.InboundMessage{Payload: []byte(fmt.Sprintf(`{"type":"TRANSCRIPT","sender":"AGENT","text":"old-%d"}`, i))}
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.Queue.inflight.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := h.Queue.inflight.Load(); n != 4 {
		t.Fatalf("expected 4 queued messages, got %d", n)
	}

	if err := h.Close("b"); err != nil {
		t.Fatal(err)
	}
	pb2 := newStub()
	view, err := h.Open("b", pb2)
	if err != nil {
		t.Fatal(err)
	}
	close(release)

	pb2.ch <- types.InboundMessage{Payload: []byte(`{"type":"TRANSCRIPT","sender":"AGENT","text":"new-0"}`)}
	deadline = time.Now().Add(2 * time.Second)
	for view.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !h.Queue.WaitIdle(time.Second) {
		t.Fatal("timed out waiting for queue")
	}
	tr := view.Transcript()
	if len(tr) != 2 {
		t.Fatalf("expected welcome plus new-0, got %+v", tr)
	}
	if tr[1].Text != "new-0" {
		t.Errorf("expected new-0, got %q", tr[1].Text)
	}
}

func TestHubCloseReservesName(t *testing.T) {
	h := newTestHub(t)
	if _, err := h.Open("held", nil); err != nil {
		t.Fatal(err)
	}
	h.mu.Lock()
	h.rooms["held"].closing = true
	h.mu.Unlock()

	if _, ok := h.Get("held"); ok {
		t.Error("expected closing room to be hidden from Get")
	}
	if len(h.List()) != 0 {
		t.Error("expected closing room to be hidden from List")
	}
	if _, err := h.Open("held", nil); !errors.Is(err, ErrRoomExists) {
		t.Errorf("expected ErrRoomExists while closing, got %v", err)
	}
	if err := h.Close("held"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound for a second close, got %v", err)
	}

	h.mu.Lock()
	h.rooms["held"].closing = false
	h.mu.Unlock()
}
