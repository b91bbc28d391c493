package room

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestBoard() (*Board, *clockwork.FakeClock) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	return NewBoard(clk, DefaultBoardConfig()), clk
}

// activeCount polls until the board holds want notices. Expiry callbacks
// run on their own goroutine after the fake clock advances.
func activeCount(t *testing.T, b *Board, want int) bool {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(b.Active()) != want {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
	return true
}

func TestBoardAlertAutoDismiss(t *testing.T) {
	board, clk := newTestBoard()

	n := board.Raise(KindAlert, "PRODUCTION OUTAGE")
	if got := board.Active(); len(got) != 1 || got[0].ID != n.ID {
		t.Fatalf("expected the alert to be active, got %+v", got)
	}

	clk.Advance(7 * time.Second)
	if len(board.Active()) != 1 {
		t.Fatal("alert dismissed before its TTL")
	}

	clk.Advance(time.Second)
	if !activeCount(t, board, 0) {
		t.Errorf("expected alert to expire after 8s, still active: %+v", board.Active())
	}
}

func TestBoardAlertReplacesPrevious(t *testing.T) {
	board, clk := newTestBoard()
	events, cancel := board.Subscribe(8)
	defer cancel()

	first := board.Raise(KindAlert, "one")
	clk.Advance(5 * time.Second)
	second := board.Raise(KindAlert, "two")

	active := board.Active()
	if len(active) != 1 || active[0].ID != second.ID {
		t.Fatalf("expected only the second alert, got %+v", active)
	}

	want := []struct {
		typ NoticeEventType
		msg string
	}{
		{NoticeRaised, "one"},
		{NoticeDismissed, "one"},
		{NoticeRaised, "two"},
	}
	for _, w := range want {
		ev := <-events
		if ev.Type != w.typ || ev.Notice.Message != w.msg {
			t.Errorf("expected %s %q, got %s %q", w.typ, w.msg, ev.Type, ev.Notice.Message)
		}
	}

	// The replaced alert's timer must not dismiss the new one.
	clk.Advance(4 * time.Second)
	if active := board.Active(); len(active) != 1 || active[0].ID != second.ID {
		t.Errorf("new alert dismissed by old timer: %+v (first=%s)", active, first.ID)
	}
	clk.Advance(4 * time.Second)
	if !activeCount(t, board, 0) {
		t.Error("expected second alert to expire")
	}
}

func TestBoardHintsBounded(t *testing.T) {
	board, clk := newTestBoard()

	for _, msg := range []string{"a", "b", "c", "d"} {
		board.Raise(KindHint, msg)
		clk.Advance(time.Second)
	}

	active := board.Active()
	if len(active) != 3 {
		t.Fatalf("expected 3 hints, got %d", len(active))
	}
	if active[0].Message != "b" || active[2].Message != "d" {
		t.Errorf("expected oldest hint evicted, got %+v", active)
	}

	clk.Advance(10 * time.Second)
	if !activeCount(t, board, 0) {
		t.Errorf("expected hints to expire, got %+v", board.Active())
	}
}

func TestBoardSlowSubscriberDoesNotBlock(t *testing.T) {
	board, _ := newTestBoard()
	_, cancel := board.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			board.Raise(KindHint, "spam")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Raise blocked on a full subscriber")
	}
}

func TestBoardUnsubscribeAndClose(t *testing.T) {
	board, clk := newTestBoard()
	events, cancel := board.Subscribe(4)
	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Error("expected closed channel after cancel")
	}

	other, _ := board.Subscribe(4)
	board.Raise(KindAlert, "x")
	board.Close()

	<-other // raised
	if _, ok := <-other; ok {
		t.Error("expected channel closed by Close")
	}
	ctx, cancelWait := context.WithTimeout(context.Background(), time.Second)
	defer cancelWait()
	if err := clk.BlockUntilContext(ctx, 0); err != nil {
		t.Errorf("expected timers stopped: %v", err)
	}
	if len(board.Active()) != 0 {
		t.Error("expected no active notices after Close")
	}
}

func TestBoardDismiss(t *testing.T) {
	board, _ := newTestBoard()
	n := board.Raise(KindHint, "x")
	if !board.Dismiss(n.ID) {
		t.Error("expected Dismiss to succeed")
	}
	if board.Dismiss(n.ID) {
		t.Error("expected second Dismiss to fail")
	}
}
