// Package dispatch routes the manager's multiplexed event stream to
// per-session handlers. Consumers hold exactly one subscription per
// channel type regardless of session count; lookup is a map access, not
// a broadcast-and-filter scan.
package dispatch

import (
	"context"
	"sync"

	"github.com/user/shellmux/internal/session"
)

// Dispatcher fans a single event stream out to registered per-session
// handlers. Events for sessions with no handler are dropped.
type Dispatcher struct {
	mu          sync.RWMutex
	data        map[string]func(data string)
	exit        map[string]func(code int)
	inputBuffer map[string]func(text string)
	command     map[string]func(text string)
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		data:        make(map[string]func(string)),
		exit:        make(map[string]func(int)),
		inputBuffer: make(map[string]func(string)),
		command:     make(map[string]func(string)),
	}
}

// OnData registers the handler for a session's raw output.
func (d *Dispatcher) OnData(id string, fn func(data string)) {
	d.mu.Lock()
	d.data[id] = fn
	d.mu.Unlock()
}

// OnExit registers the handler for a session's exit notification.
func (d *Dispatcher) OnExit(id string, fn func(code int)) {
	d.mu.Lock()
	d.exit[id] = fn
	d.mu.Unlock()
}

// OnInputBuffer registers the handler for live input-buffer snapshots.
func (d *Dispatcher) OnInputBuffer(id string, fn func(text string)) {
	d.mu.Lock()
	d.inputBuffer[id] = fn
	d.mu.Unlock()
}

// OnCommand registers the handler for submitted-command events.
func (d *Dispatcher) OnCommand(id string, fn func(text string)) {
	d.mu.Lock()
	d.command[id] = fn
	d.mu.Unlock()
}

// Detach removes every handler registered for the session.
func (d *Dispatcher) Detach(id string) {
	d.mu.Lock()
	delete(d.data, id)
	delete(d.exit, id)
	delete(d.inputBuffer, id)
	delete(d.command, id)
	d.mu.Unlock()
}

// Run consumes events until the stream closes or ctx is canceled,
// routing each to the handler registered for its session.
func (d *Dispatcher) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			d.route(evt)
		}
	}
}

func (d *Dispatcher) route(evt session.Event) {
	d.mu.RLock()
	var dataFn, bufFn, cmdFn func(string)
	var exitFn func(int)
	switch evt.Type {
	case session.EventData:
		dataFn = d.data[evt.SessionID]
	case session.EventExit:
		exitFn = d.exit[evt.SessionID]
	case session.EventInputBuffer:
		bufFn = d.inputBuffer[evt.SessionID]
	case session.EventCommand:
		cmdFn = d.command[evt.SessionID]
	}
	d.mu.RUnlock()

	switch {
	case dataFn != nil:
		dataFn(evt.Data)
	case exitFn != nil:
		exitFn(evt.ExitCode)
	case bufFn != nil:
		bufFn(evt.Data)
	case cmdFn != nil:
		cmdFn(evt.Data)
	}
}
