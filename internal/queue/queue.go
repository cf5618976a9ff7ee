// Package queue distributes decoded frames from a single producer to an
// ordered set of consumers without making the producer wait on them.
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tofcam/internal/frame"
)

// DefaultCapacity is the number of frames buffered between the producer and
// the dispatch goroutine.
const DefaultCapacity = 64

const drainPoll = 2 * time.Millisecond

// Consumer receives frames from a Queue. ConsumeImage runs on the queue's
// dispatch goroutine: it must not block indefinitely, must not modify the
// frame and must not call Stop on the queue delivering to it.
type Consumer interface {
	ConsumeImage(frame.Frame)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(frame.Frame)

func (f ConsumerFunc) ConsumeImage(fr frame.Frame) { f(fr) }

type state int

const (
	stateRunning state = iota
	stateStopped
)

type listener struct {
	id       string
	consumer Consumer
}

// Stats counts frames through a Queue.
type Stats struct {
	Enqueued   uint64
	Delivered  uint64
	Overflowed uint64
	Discarded  uint64
	Listeners  int
}

// Queue is a cancellable FIFO that fans each frame out to every registered
// listener in registration order. It is Running from construction until
// Stop, which is terminal.
type Queue struct {
	name     string
	capacity int

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []frame.Frame
	listeners []listener
	state     state
	busy      bool
	stats     Stats

	done chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the pending buffer. n <= 0 leaves it unbounded.
func WithCapacity(n int) Option {
	return func(q *Queue) { q.capacity = n }
}

// WithName tags log lines emitted by the queue.
func WithName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// New creates a running Queue and starts its dispatch goroutine.
func New(opts ...Option) *Queue {
	q := &Queue{
		name:     "queue",
		capacity: DefaultCapacity,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cond = sync.NewCond(&q.mu)
	go q.dispatch()
	return q
}

// AddListener registers c and returns a handle for RemoveListener. Frames
// enqueued afterwards reach c after every listener registered before it.
func (q *Queue) AddListener(c Consumer) string {
	id := uuid.NewString()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == stateStopped {
		return id
	}
	q.listeners = append(q.listeners, listener{id: id, consumer: c})
	return id
}

// RemoveListener unregisters the listener with the given handle. It reports
// whether the handle was registered.
func (q *Queue) RemoveListener(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, l := range q.listeners {
		if l.id == id {
			q.listeners = append(q.listeners[:i:i], q.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Enqueue appends f for delivery. It never waits on consumers: when the
// buffer is full the oldest pending frame is dropped. After Stop the frame
// is discarded silently.
func (q *Queue) Enqueue(f frame.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == stateStopped {
		q.stats.Discarded++
		return
	}
	if q.capacity > 0 && len(q.pending) >= q.capacity {
		q.pending[0] = frame.Frame{}
		q.pending = q.pending[1:]
		q.stats.Overflowed++
		if q.stats.Overflowed == 1 || q.stats.Overflowed%100 == 0 {
			log.Printf("[%s] consumers are behind, dropped %d frames so far", q.name, q.stats.Overflowed)
		}
	}
	q.pending = append(q.pending, f)
	q.stats.Enqueued++
	q.cond.Signal()
}

// Stop prevents further dispatch, waits for an in-flight delivery to finish
// and drops anything still pending. No listener is invoked after Stop
// returns. It is safe to call more than once and concurrently with Enqueue.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.state != stateStopped {
		q.state = stateStopped
		q.stats.Discarded += uint64(len(q.pending))
		q.pending = nil
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	<-q.done
}

// Drain waits until every pending frame has been delivered, the queue is
// stopped, or ctx ends. It does not stop the producer; frames enqueued
// meanwhile are waited for too.
func (q *Queue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle := q.state == stateStopped || (len(q.pending) == 0 && !q.busy)
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stopped reports whether Stop has been called.
func (q *Queue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == stateStopped
}

// Done is closed once the dispatch goroutine has exited.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Listeners = len(q.listeners)
	return s
}

func (q *Queue) dispatch() {
	defer close(q.done)

	var targets []Consumer
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && q.state == stateRunning {
			q.cond.Wait()
		}
		if q.state == stateStopped {
			q.listeners = nil
			q.mu.Unlock()
			return
		}
		f := q.pending[0]
		q.pending[0] = frame.Frame{}
		q.pending = q.pending[1:]
		targets = targets[:0]
		for _, l := range q.listeners {
			targets = append(targets, l.consumer)
		}
		q.stats.Delivered++
		q.busy = true
		q.mu.Unlock()

		for _, c := range targets {
			c.ConsumeImage(f)
		}

		q.mu.Lock()
		q.busy = false
		q.mu.Unlock()
	}
}
