package pty

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultPoolSize is the number of warm sessions kept ready.
	DefaultPoolSize = 2
	// DefaultPoolMaxAge is how long a warm session may sit unused before
	// the maintenance pass evicts it.
	DefaultPoolMaxAge = 60 * time.Second
	// DefaultPoolInterval is how often the maintenance pass runs.
	DefaultPoolInterval = 30 * time.Second
)

// SpawnFunc creates a new unattached shell session. The pool calls it
// with its own default geometry; the adopter resizes on take.
type SpawnFunc func() (*Session, error)

// Pool keeps a small set of pre-spawned, unattached shell sessions so
// that session creation can skip process-spawn latency in the common
// case. Spawn failures shrink the pool instead of surfacing as errors.
type Pool struct {
	spawn    SpawnFunc
	size     int
	maxAge   time.Duration
	interval time.Duration

	mu      sync.Mutex
	warm    []*Session
	drained bool
	cancel  context.CancelFunc
}

// NewPool creates a Pool. Non-positive size or durations fall back to
// the package defaults.
func NewPool(size int, maxAge, interval time.Duration, spawn SpawnFunc) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if maxAge <= 0 {
		maxAge = DefaultPoolMaxAge
	}
	if interval <= 0 {
		interval = DefaultPoolInterval
	}
	return &Pool{
		spawn:    spawn,
		size:     size,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Start launches the maintenance loop: every interval, evict warm
// sessions past maxAge and refill. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil || p.drained {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.maintain()
			}
		}
	}()
}

// Fill tops the pool up to its target size. A spawn failure stops the
// attempt early; a smaller-than-desired pool is a degraded state, not an
// error.
func (p *Pool) Fill() {
	for {
		p.mu.Lock()
		if p.drained || len(p.warm) >= p.size {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		sess, err := p.spawn()
		if err != nil {
			slog.Debug("warm session spawn failed", "error", err)
			return
		}

		p.mu.Lock()
		if p.drained || len(p.warm) >= p.size {
			p.mu.Unlock()
			// Lost the race while spawning; do not leak the process.
			_ = sess.Close()
			return
		}
		p.warm = append(p.warm, sess)
		p.mu.Unlock()
	}
}

// Take removes and returns the oldest warm session, or nil if the pool
// is empty. Sessions past maxAge are discarded on the way out, so the
// age bound holds even between maintenance ticks. A refill is scheduled
// asynchronously either way; Take never blocks waiting for one.
func (p *Pool) Take() *Session {
	p.mu.Lock()
	var sess *Session
	var stale []*Session
	for !p.drained && len(p.warm) > 0 {
		cand := p.warm[0]
		p.warm = p.warm[1:]
		if time.Since(cand.CreatedAt()) > p.maxAge {
			stale = append(stale, cand)
			continue
		}
		sess = cand
		break
	}
	p.mu.Unlock()

	for _, s := range stale {
		slog.Debug("discarding stale warm session on take", "pid", s.Pid())
		_ = s.Close()
	}

	go p.Fill()
	return sess
}

// Len returns the current number of warm sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.warm)
}

// maintain evicts warm sessions older than maxAge, then refills.
func (p *Pool) maintain() {
	p.mu.Lock()
	var stale []*Session
	kept := p.warm[:0]
	for _, sess := range p.warm {
		if time.Since(sess.CreatedAt()) > p.maxAge {
			stale = append(stale, sess)
		} else {
			kept = append(kept, sess)
		}
	}
	p.warm = kept
	p.mu.Unlock()

	for _, sess := range stale {
		slog.Debug("evicting stale warm session", "pid", sess.Pid())
		_ = sess.Close()
	}

	p.Fill()
}

// Drain stops the maintenance loop and kills every warm session. After
// Drain the pool stays empty; Fill and Take become no-ops. Safe to call
// multiple times.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.drained = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	warm := p.warm
	p.warm = nil
	p.mu.Unlock()

	for _, sess := range warm {
		_ = sess.Close()
	}
}
