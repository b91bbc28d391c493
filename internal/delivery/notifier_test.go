package delivery

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/aegis/internal/room"
	"github.com/user/aegis/internal/types"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) handle(target, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, target+" "+message)
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func inbound(payload string) types.InboundMessage {
	return types.InboundMessage{Payload: []byte(payload)}
}

func TestNotifierForwardsAlerts(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("telegram:", rec.handle)
	n := NewNotifier(reg, []string{"telegram:42"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	v := room.NewView("interview-7", nil, room.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	n.Watch(v)

	v.HandleInbound(inbound(`{"type":"TRANSCRIPT","sender":"AGENT","text":"ignored"}`))
	v.HandleInbound(inbound(`{"type":"CRISIS_ALERT","message":"DB DOWN"}`))

	deadline := time.Now().Add(time.Second)
	for len(rec.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	v.Close()
	n.Wait()

	msgs := rec.all()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 notification, got %v", msgs)
	}
	if !strings.HasPrefix(msgs[0], "telegram:42 ") || !strings.Contains(msgs[0], "DB DOWN") || !strings.Contains(msgs[0], "interview-7") {
		t.Errorf("unexpected notification %q", msgs[0])
	}
}

func TestNotifierTakeover(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("telegram:", rec.handle)
	n := NewNotifier(reg, []string{"telegram:1", "telegram:2"}, nil)

	v := room.NewView("r1", nil, room.WithTakeoverHook(n.Takeover), room.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer v.Close()

	// No session: the local takeover still happens and is reported.
	if ok, _ := v.EngageTakeover(context.Background()); !ok {
		t.Fatal("expected takeover")
	}
	n.Wait()

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("expected one notification per target, got %v", msgs)
	}
	for _, m := range msgs {
		if !strings.Contains(m, room.TakeoverText) {
			t.Errorf("unexpected notification %q", m)
		}
	}
}

func TestNotifierWithoutTargets(t *testing.T) {
	n := NewNotifier(NewRegistry(), nil, nil)
	v := room.NewView("quiet", nil)
	n.Watch(v)
	n.Takeover("quiet")
	v.Close()
	n.Wait()
}
