package api

import (
	"sync"

	"github.com/halver/nudge/internal/suggest"
)

// maxPendingBatches bounds the feed when no UI is polling; the oldest batch
// is dropped first.
const maxPendingBatches = 10

// Feed buffers dispatched suggestion batches until the UI polls for them.
// It is the engine-side half of the suggestions surface: the dispatcher
// publishes into it, GET /suggestions drains it.
type Feed struct {
	mu      sync.Mutex
	pending []suggest.Batch
}

func NewFeed() *Feed {
	return &Feed{}
}

// Publish appends a batch to the feed. Satisfies suggest.Notifier.
func (f *Feed) Publish(b suggest.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, b)
	if len(f.pending) > maxPendingBatches {
		f.pending = f.pending[len(f.pending)-maxPendingBatches:]
	}
}

// Drain returns all pending batches, oldest first, and empties the feed.
func (f *Feed) Drain() []suggest.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.pending
	f.pending = nil
	return out
}

// Peek returns the pending batches without draining them.
func (f *Feed) Peek() []suggest.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]suggest.Batch(nil), f.pending...)
}

// Len reports how many batches are waiting.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
