package ask

import (
	"sync"

	"github.com/MegaGrindStone/ask-stream/internal/models"
)

// StateSink receives every published snapshot. OnUpdate must not block on UI readiness and must
// not call back into the coordinator.
type StateSink interface {
	OnUpdate(state models.RequestState)
}

// liveness is implemented by sinks that can go away while still attached, such as a UI that was
// closed by the user.
type liveness interface {
	Alive() bool
}

// Broadcaster delivers snapshots to a single attached sink. Publishing with no sink attached, or
// with a sink that reports it is gone, is a no-op: nothing is queued or retried.
type Broadcaster struct {
	mu   sync.Mutex
	sink StateSink
}

// NewBroadcaster returns a broadcaster with sink attached. sink may be nil.
func NewBroadcaster(sink StateSink) *Broadcaster {
	return &Broadcaster{sink: sink}
}

// Attach replaces the current sink.
func (b *Broadcaster) Attach(sink StateSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Detach removes the current sink, if any.
func (b *Broadcaster) Detach() {
	b.Attach(nil)
}

// Publish hands state to the sink synchronously. Concurrent publishers are serialised, so the
// sink observes snapshots in the order Publish calls acquired the broadcaster.
func (b *Broadcaster) Publish(state models.RequestState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sink == nil {
		return
	}
	if l, ok := b.sink.(liveness); ok && !l.Alive() {
		return
	}
	b.sink.OnUpdate(state)
}
