package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/aegis/internal/types"
)

// MemoryRoom is an in-process room. Every participant joined to it is a
// SessionProvider; a payload published by one is delivered, in order, to
// all the others.
type MemoryRoom struct {
	mu      sync.RWMutex
	members map[types.ParticipantID]*MemoryPeer
	buffer  int
}

// NewMemoryRoom creates a room whose peers buffer up to buffer inbound
// messages. Publishing blocks while a recipient's buffer is full.
func NewMemoryRoom(buffer int) *MemoryRoom {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryRoom{
		members: make(map[types.ParticipantID]*MemoryPeer),
		buffer:  buffer,
	}
}

// Join adds a participant to the room.
func (r *MemoryRoom) Join(id types.ParticipantID, kind string) (*MemoryPeer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; ok {
		return nil, fmt.Errorf("participant %s already in room", id)
	}
	p := &MemoryPeer{
		room:     r,
		info:     types.Participant{Identity: id, Kind: kind, JoinedAt: time.Now().UTC()},
		messages: make(chan types.InboundMessage, r.buffer),
		done:     make(chan struct{}),
	}
	r.members[id] = p
	return p, nil
}

func (r *MemoryRoom) leave(p *MemoryPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[p.info.Identity] == p {
		delete(r.members, p.info.Identity)
	}
}

func (r *MemoryRoom) deliver(ctx context.Context, from *MemoryPeer, msg types.InboundMessage) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.members {
		if id == from.info.Identity {
			continue
		}
		select {
		case p.messages <- msg:
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *MemoryRoom) roster(except types.ParticipantID) []types.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Participant, 0, len(r.members))
	for id, p := range r.members {
		if id != except {
			out = append(out, p.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// MemoryPeer is one participant of a MemoryRoom.
type MemoryPeer struct {
	room     *MemoryRoom
	info     types.Participant
	messages chan types.InboundMessage

	closeOnce sync.Once
	done      chan struct{}
}

func (p *MemoryPeer) State() types.ConnectionState {
	select {
	case <-p.done:
		return types.StateDisconnected
	default:
		return types.StateConnected
	}
}

func (p *MemoryPeer) Messages() <-chan types.InboundMessage {
	return p.messages
}

func (p *MemoryPeer) Publish(ctx context.Context, payload []byte, opts types.PublishOptions) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	msg := types.InboundMessage{
		Payload:    append([]byte(nil), payload...),
		From:       p.info.Identity,
		Topic:      opts.Topic,
		ReceivedAt: time.Now(),
	}
	return p.room.deliver(ctx, p, msg)
}

func (p *MemoryPeer) Participants() []types.Participant {
	return p.room.roster(p.info.Identity)
}

// Close leaves the room and closes the inbound stream.
func (p *MemoryPeer) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.room.leave(p)
		// deliver holds the read lock while sending; leave has taken and
		// released the write lock, so no sender can still reach p.
		close(p.messages)
	})
	return nil
}
