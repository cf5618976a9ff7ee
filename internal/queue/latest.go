package queue

import (
	"sync/atomic"

	"github.com/banshee-data/tofcam/internal/frame"
)

// Latest holds the most recent frame for readers that poll on their own
// schedule, such as a render loop. It is a Consumer, so it can be attached
// to a Queue directly. Store and Load are atomic; a reader never sees a
// partially written frame.
type Latest struct {
	slot atomic.Pointer[frame.Frame]
	seq  atomic.Uint64
}

func (l *Latest) ConsumeImage(f frame.Frame) {
	l.slot.Store(&f)
	l.seq.Add(1)
}

// Load returns the latest frame, or false if none has arrived yet.
func (l *Latest) Load() (frame.Frame, bool) {
	p := l.slot.Load()
	if p == nil {
		return frame.Frame{}, false
	}
	return *p, true
}

// Seq counts stored frames. Pollers compare it to skip unchanged frames.
func (l *Latest) Seq() uint64 { return l.seq.Load() }
