package hub

import (
	"strings"
	"sync"
	"time"
)

// Batcher coalesces high-volume PTY output per session so a burst of
// small reads becomes one websocket frame per interval instead of
// hundreds.
type Batcher struct {
	mu       sync.Mutex
	pending  map[string]*pendingData
	interval time.Duration
	onFlush  func(sessionID string, data string)
}

type pendingData struct {
	chunks []string
	timer  *time.Timer
}

// NewBatcher creates a Batcher that calls onFlush at most once per
// interval per session.
func NewBatcher(interval time.Duration, onFlush func(sessionID string, data string)) *Batcher {
	return &Batcher{
		pending:  make(map[string]*pendingData),
		interval: interval,
		onFlush:  onFlush,
	}
}

// Add queues one output chunk for a session and arms the flush timer if
// none is pending.
func (b *Batcher) Add(sessionID, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, exists := b.pending[sessionID]
	if !exists {
		p = &pendingData{}
		b.pending[sessionID] = p
	}
	p.chunks = append(p.chunks, data)

	if p.timer == nil {
		p.timer = time.AfterFunc(b.interval, func() {
			b.Flush(sessionID)
		})
	}
}

// Flush delivers everything pending for one session immediately.
func (b *Batcher) Flush(sessionID string) {
	b.mu.Lock()
	p, exists := b.pending[sessionID]
	if !exists {
		b.mu.Unlock()
		return
	}
	delete(b.pending, sessionID)
	b.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	if b.onFlush != nil && len(p.chunks) > 0 {
		b.onFlush(sessionID, strings.Join(p.chunks, ""))
	}
}

// FlushAll delivers everything pending for every session.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.Flush(id)
	}
}
