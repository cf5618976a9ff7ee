package queue

import "github.com/banshee-data/tofcam/internal/frame"

// Strategy decides what a frame source does with each decoded frame.
// OnFrame is called on the source's producer goroutine.
type Strategy interface {
	OnFrame(frame.Frame)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(frame.Frame)

func (f StrategyFunc) OnFrame(fr frame.Frame) { f(fr) }

// Enqueuer is the default strategy: it forwards every frame into a Queue.
type Enqueuer struct {
	q *Queue
}

// NewEnqueuer returns a strategy feeding q.
func NewEnqueuer(q *Queue) *Enqueuer {
	return &Enqueuer{q: q}
}

func (e *Enqueuer) OnFrame(f frame.Frame) { e.q.Enqueue(f) }

// Direct delivers each frame synchronously on the producer goroutine to the
// given consumers, in order, with no buffering.
type Direct []Consumer

func (d Direct) OnFrame(f frame.Frame) {
	for _, c := range d {
		c.ConsumeImage(f)
	}
}

// FanOut hands each frame to several strategies in order, e.g. one queue
// per display for a multi-sensor rig.
type FanOut []Strategy

func (fo FanOut) OnFrame(f frame.Frame) {
	for _, s := range fo {
		s.OnFrame(f)
	}
}
