package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/user/aegis/internal/room"
	"github.com/user/aegis/internal/types"
)

var (
	ErrRoomExists   = errors.New("room already open")
	ErrRoomNotFound = errors.New("room not found")
	ErrStopped      = errors.New("hub stopped")
)

type openRoom struct {
	view    *room.View
	cancel  context.CancelFunc
	done    chan struct{}
	closing bool
}

// Hub owns the open interview rooms. It pumps each room's inbound
// stream into the room's lane so effects are applied in delivery order.
type Hub struct {
	Queue    *Queue
	viewOpts []room.Option
	onOpen   []func(*room.View)
	logger   *slog.Logger

	mu      sync.RWMutex
	rooms   map[types.RoomName]*openRoom
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

type Option func(*Hub)

// WithViewOptions sets options applied to every view the hub opens.
func WithViewOptions(opts ...room.Option) Option {
	return func(h *Hub) { h.viewOpts = append(h.viewOpts, opts...) }
}

// WithLaneBuffer sets the per-room lane capacity.
func WithLaneBuffer(n int) Option {
	return func(h *Hub) { h.Queue.buffer = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// New creates a Hub that applies effects for at most maxConcurrent rooms
// at a time.
func New(maxConcurrent int64, opts ...Option) *Hub {
	h := &Hub{
		Queue:  NewQueue(maxConcurrent, defaultLaneBuffer),
		logger: slog.Default(),
		rooms:  make(map[types.RoomName]*openRoom),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.Queue.buffer <= 0 {
		h.Queue.buffer = defaultLaneBuffer
	}
	h.Queue.SetProcessor(h.process)
	return h
}

// OnOpen registers fn to be called with every newly opened view.
func (h *Hub) OnOpen(fn func(*room.View)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onOpen = append(h.onOpen, fn)
}

// Start initialises the hub's context and starts the lane queue.
func (h *Hub) Start(ctx context.Context) {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.Queue.Start(h.ctx)
}

// Stop closes every room, stops the queue and waits for the pumps.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	names := make([]types.RoomName, 0, len(h.rooms))
	for name, r := range h.rooms {
		if !r.closing {
			names = append(names, name)
		}
	}
	h.mu.Unlock()

	for _, name := range names {
		if err := h.Close(name); err != nil {
			h.logger.Warn("closing room", "room", string(name), "error", err)
		}
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.Queue.Stop()
	h.wg.Wait()
}

// Open creates a view for name backed by provider and starts pumping the
// provider's inbound messages into it. provider may be nil for a room
// that only records local actions.
func (h *Hub) Open(name types.RoomName, provider types.SessionProvider, opts ...room.Option) (*room.View, error) {
	h.mu.Lock()
	if h.stopped || h.ctx == nil {
		h.mu.Unlock()
		return nil, ErrStopped
	}
	if _, ok := h.rooms[name]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, name)
	}

	all := append(append([]room.Option{room.WithLogger(h.logger)}, h.viewOpts...), opts...)
	view := room.NewView(name, provider, all...)
	ctx, cancel := context.WithCancel(h.ctx)
	r := &openRoom{view: view, cancel: cancel, done: make(chan struct{})}
	h.rooms[name] = r
	hooks := append([]func(*room.View){}, h.onOpen...)
	h.mu.Unlock()

	if provider != nil {
		h.wg.Add(1)
		go h.pump(ctx, name, provider, r.done)
	} else {
		close(r.done)
	}

	for _, fn := range hooks {
		fn(view)
	}
	h.logger.Info("room opened", "room", string(name))
	return view, nil
}

func (h *Hub) pump(ctx context.Context, name types.RoomName, provider types.SessionProvider, done chan struct{}) {
	defer h.wg.Done()
	defer close(done)
	msgs := provider.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				h.logger.Info("room stream closed", "room", string(name))
				return
			}
			if err := h.Queue.Enqueue(name, msg); err != nil {
				h.logger.Warn("dropping data message", "room", string(name), "error", err)
			}
		}
	}
}

func (h *Hub) process(name types.RoomName, msg types.InboundMessage) {
	view, ok := h.Get(name)
	if !ok {
		return
	}
	view.HandleInbound(msg)
}

// Close stops the room's pump and lane, closes its provider and releases
// its view. The name stays reserved until Close returns, so a reopened room
// never sees messages queued for the previous session.
func (h *Hub) Close(name types.RoomName) error {
	h.mu.Lock()
	r, ok := h.rooms[name]
	if !ok || r.closing {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	r.closing = true
	h.mu.Unlock()

	r.cancel()
	<-r.done
	h.Queue.CloseLane(name)

	var err error
	if p := r.view.Provider(); p != nil {
		if cerr := p.Close(); cerr != nil {
			err = fmt.Errorf("close session: %w", cerr)
		}
	}
	r.view.Close()

	h.mu.Lock()
	delete(h.rooms, name)
	h.mu.Unlock()
	h.logger.Info("room closed", "room", string(name))
	return err
}

// Get returns the open view for name.
func (h *Hub) Get(name types.RoomName) (*room.View, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	if !ok || r.closing {
		return nil, false
	}
	return r.view, true
}

// List returns the open views sorted by room name.
func (h *Hub) List() []*room.View {
	h.mu.RLock()
	views := make([]*room.View, 0, len(h.rooms))
	for _, r := range h.rooms {
		if !r.closing {
			views = append(views, r.view)
		}
	}
	h.mu.RUnlock()
	sort.Slice(views, func(i, j int) bool { return views[i].Name() < views[j].Name() })
	return views
}
