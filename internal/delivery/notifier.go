package delivery

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/aegis/internal/room"
	"github.com/user/aegis/internal/types"
)

// Notifier forwards room events that need a recruiter's attention to the
// configured targets.
type Notifier struct {
	registry *Registry
	targets  []string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewNotifier(registry *Registry, targets []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		registry: registry,
		targets:  append([]string(nil), targets...),
		logger:   logger,
	}
}

// Watch forwards every alert raised on the view's board until the view
// is closed.
func (n *Notifier) Watch(v *room.View) {
	if len(n.targets) == 0 {
		return
	}
	events, _ := v.Board().Subscribe(16)
	name := v.Name()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for ev := range events {
			if ev.Type != room.NoticeRaised || ev.Notice.Kind != room.KindAlert {
				continue
			}
			n.send(name, fmt.Sprintf("*[%s]* CRISIS ALERT: %s", name, ev.Notice.Message))
		}
	}()
}

// Takeover reports that a human took control of the room.
func (n *Notifier) Takeover(name types.RoomName) {
	if len(n.targets) == 0 {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.send(name, fmt.Sprintf("*[%s]* %s", name, room.TakeoverText))
	}()
}

func (n *Notifier) send(name types.RoomName, message string) {
	if err := n.registry.Broadcast(n.targets, message); err != nil {
		n.logger.Warn("notification delivery failed", "room", string(name), "error", err)
	}
}

// Wait blocks until every pending notification has been sent and every
// watched view has closed.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
