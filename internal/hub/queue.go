package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/aegis/internal/types"
)

const defaultLaneBuffer = 100

// lane is one room's FIFO and the goroutine draining it.
type lane struct {
	ch     chan types.InboundMessage
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Queue manages per-room lanes with a global concurrency semaphore.
// Each room gets its own FIFO channel (lane) so that inbound messages of
// one room are applied sequentially and in delivery order, while the
// semaphore limits how many rooms apply effects at the same time.
type Queue struct {
	lanes     map[types.RoomName]*lane
	buffer    int
	semaphore *semaphore.Weighted
	processor func(types.RoomName, types.InboundMessage)
	inflight  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that lets up to maxConcurrent rooms process a
// message simultaneously. buffer is the per-room lane capacity.
func NewQueue(maxConcurrent int64, buffer int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if buffer <= 0 {
		buffer = defaultLaneBuffer
	}
	return &Queue{
		lanes:     make(map[types.RoomName]*lane),
		buffer:    buffer,
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for
// in-flight processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for name, l := range q.lanes {
		close(l.ch)
		delete(q.lanes, name)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends msg to the room's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(room types.RoomName, msg types.InboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue stopped")
	}

	l, exists := q.lanes[room]
	if !exists {
		l = &lane{ch: make(chan types.InboundMessage, q.buffer), done: make(chan struct{})}
		l.ctx, l.cancel = context.WithCancel(q.ctx)
		q.lanes[room] = l
		q.wg.Add(1)
		go q.processLane(room, l)
	}

	q.inflight.Add(1)
	select {
	case l.ch <- msg:
		return nil
	default:
		q.inflight.Add(-1)
		return fmt.Errorf("queue full for room %s", room)
	}
}

// CloseLane shuts a room's lane and waits for its goroutine to exit.
// Messages still queued are discarded, so a room reopened under the same
// name starts with a fresh lane. It must not be called from the processor.
func (q *Queue) CloseLane(room types.RoomName) {
	q.mu.Lock()
	l, ok := q.lanes[room]
	if ok {
		delete(q.lanes, room)
		l.cancel()
		close(l.ch)
	}
	q.mu.Unlock()
	if ok {
		<-l.done
	}
}

// processLane drains a single room lane, acquiring a semaphore slot
// before running the processor synchronously. Once the lane is cancelled
// the remaining messages are only counted off.
func (q *Queue) processLane(room types.RoomName, l *lane) {
	defer q.wg.Done()
	defer close(l.done)
	for msg := range l.ch {
		if l.ctx.Err() != nil {
			q.inflight.Add(-1)
			continue
		}
		if err := q.semaphore.Acquire(l.ctx, 1); err != nil {
			q.inflight.Add(-1)
			continue
		}
		if q.processor != nil {
			q.run(room, msg)
		}
		q.semaphore.Release(1)
		q.inflight.Add(-1)
	}
}

func (q *Queue) run(room types.RoomName, msg types.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("room processor panicked", "room", string(room), "panic", r)
		}
	}()
	q.processor(room, msg)
}

// WaitIdle blocks until every enqueued message has been processed, or
// the timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.inflight.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued message.
func (q *Queue) SetProcessor(fn func(types.RoomName, types.InboundMessage)) {
	q.processor = fn
}
