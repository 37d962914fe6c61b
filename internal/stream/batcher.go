package stream

import (
	"strings"
	"sync"
	"time"
)

// DefaultFlushInterval is the debounce window between renders while a
// response is streaming.
const DefaultFlushInterval = 50 * time.Millisecond

// Batcher accumulates deltas and invokes a flush callback with the full
// accumulated text at most once per interval. Rendering re-processes the
// whole transcript, so flushing per delta would make each token more
// expensive than the last.
//
// Stop guarantees exactly one final flush regardless of timer state, which
// is how completion and abort both leave the display consistent. The flush
// callback must not call back into the Batcher.
type Batcher struct {
	mu       sync.Mutex
	interval time.Duration
	flush    func(accumulated string)
	buf      strings.Builder
	timer    *time.Timer
	dirty    bool
	stopped  bool
}

// NewBatcher creates a Batcher. A non-positive interval falls back to
// DefaultFlushInterval.
func NewBatcher(interval time.Duration, flush func(string)) *Batcher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Batcher{interval: interval, flush: flush}
}

// Add appends a delta and arms the debounce timer if idle. No-op after
// Stop.
func (b *Batcher) Add(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.buf.WriteString(delta)
	b.dirty = true
	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.fire)
	}
}

// fire is the timer callback: flush if new deltas arrived since the last
// render.
func (b *Batcher) fire() {
	b.mu.Lock()
	b.timer = nil
	if b.stopped || !b.dirty {
		b.mu.Unlock()
		return
	}
	b.dirty = false
	snapshot := b.buf.String()
	b.mu.Unlock()

	b.flush(snapshot)
}

// Stop cancels any pending timer and performs the single final flush. Safe
// to call more than once; only the first call flushes.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	snapshot := b.buf.String()
	b.mu.Unlock()

	b.flush(snapshot)
}

// Text returns the accumulated transcript so far.
func (b *Batcher) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
