// Package session owns the live registry of shell sessions and the
// multiplexed event stream consumed by the UI boundary.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/shellmux/internal/pty"
	"github.com/user/shellmux/internal/shell"
)

const (
	// DefaultMaxSessions caps the number of concurrently live sessions.
	DefaultMaxSessions = 20
	// DefaultCwdTimeout bounds the out-of-band cwd query.
	DefaultCwdTimeout = 5 * time.Second

	eventBufferSize = 4096
)

// ErrCapacityExceeded is returned by Create when the registry is full.
// It is the only hard error surfaced to callers in normal operation.
var ErrCapacityExceeded = errors.New("session: maximum session count reached")

// ErrSessionExists is returned by Create for a duplicate session id.
var ErrSessionExists = errors.New("session: id already in use")

// signalBytes translates the named signals the UI may send into the
// control bytes a physical terminal would produce. Anything else is
// deliberately a no-op: the set is driven by trusted UI affordances.
var signalBytes = map[string]byte{
	"SIGINT":  0x03, // ETX, Ctrl-C
	"SIGTSTP": 0x1a, // SUB, Ctrl-Z
}

// HistoryRecorder receives submitted commands for persistence.
type HistoryRecorder interface {
	Record(ctx context.Context, sessionID, command string) error
}

// SpawnFunc creates a fresh shell session with the given geometry.
type SpawnFunc func(cols, rows uint16) (*pty.Session, error)

// Spawn resolves the login shell and starts it in the user's home
// directory. It is the default SpawnFunc for both the manager and the
// warm pool.
func Spawn(cols, rows uint16) (*pty.Session, error) {
	sh, err := shell.Resolve()
	if err != nil {
		return nil, err
	}
	return pty.Start(sh, shell.HomeDir(), cols, rows)
}

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	MaxSessions int
	CwdTimeout  time.Duration
	Spawn       SpawnFunc
	History     HistoryRecorder
}

// liveSession pairs a PTY session with its input-parsing state.
type liveSession struct {
	sess    *pty.Session
	tracker *Tracker
}

// Manager composes the warm pool, the session registry, and per-session
// command tracking behind the operations the UI boundary needs. All
// registry mutation happens under one mutex; operations that straddle an
// asynchronous boundary re-validate the registry on resumption.
type Manager struct {
	pool        *pty.Pool
	history     HistoryRecorder
	spawn       SpawnFunc
	maxSessions int
	cwdTimeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*liveSession

	events chan Event
}

// New creates a Manager. The pool may be nil, in which case every create
// spawns fresh.
func New(pool *pty.Pool, opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.CwdTimeout <= 0 {
		opts.CwdTimeout = DefaultCwdTimeout
	}
	if opts.Spawn == nil {
		opts.Spawn = Spawn
	}
	return &Manager{
		pool:        pool,
		history:     opts.History,
		spawn:       opts.Spawn,
		maxSessions: opts.MaxSessions,
		cwdTimeout:  opts.CwdTimeout,
		sessions:    make(map[string]*liveSession),
		events:      make(chan Event, eventBufferSize),
	}
}

// Events returns the multiplexed outbound stream. One subscription
// covers every session; events carry the session id for routing.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Create registers a new session under id, adopting a warm session when
// one is available and spawning fresh otherwise. It fails with
// ErrCapacityExceeded when the registry is full and ErrSessionExists for
// a duplicate id, in both cases without side effects.
func (m *Manager) Create(id string, cols, rows uint16) (CreateResult, error) {
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	if err := m.checkAdmission(id); err != nil {
		return CreateResult{}, err
	}

	sess, warm, err := m.obtainSession(cols, rows)
	if err != nil {
		return CreateResult{}, fmt.Errorf("create session %q: %w", id, err)
	}

	// The spawn crossed an async boundary; re-validate before registering.
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		_ = sess.Close()
		return CreateResult{}, ErrSessionExists
	}
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		_ = sess.Close()
		return CreateResult{}, ErrCapacityExceeded
	}
	m.sessions[id] = &liveSession{sess: sess, tracker: &Tracker{}}
	m.mu.Unlock()

	go m.forward(id, sess)

	slog.Info("session created",
		"session_id", id,
		"pid", sess.Pid(),
		"shell", sess.ShellPath(),
		"warm", warm,
	)
	return CreateResult{Pid: sess.Pid(), ShellPath: sess.ShellPath()}, nil
}

// checkAdmission enforces the capacity and uniqueness invariants before
// any process work happens.
func (m *Manager) checkAdmission(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return ErrSessionExists
	}
	if len(m.sessions) >= m.maxSessions {
		return ErrCapacityExceeded
	}
	return nil
}

// obtainSession prefers a warm session from the pool, resized to the
// requested geometry. A warm session that fails to resize is discarded
// in favor of a fresh spawn rather than handed out mis-sized.
func (m *Manager) obtainSession(cols, rows uint16) (*pty.Session, bool, error) {
	if m.pool != nil {
		if sess := m.pool.Take(); sess != nil {
			if err := sess.Resize(cols, rows); err == nil {
				return sess, true, nil
			}
			_ = sess.Close()
		}
	}
	sess, err := m.spawn(cols, rows)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// forward pumps a session's PTY events onto the multiplexed stream and
// removes the session from the registry when the process exits.
func (m *Manager) forward(id string, sess *pty.Session) {
	for evt := range sess.Events() {
		switch evt.Type {
		case pty.EventData:
			m.emit(Event{Type: EventData, SessionID: id, Data: evt.Data})
		case pty.EventExit:
			m.mu.Lock()
			if ls, ok := m.sessions[id]; ok && ls.sess == sess {
				delete(m.sessions, id)
			}
			m.mu.Unlock()
			m.emit(Event{Type: EventExit, SessionID: id, ExitCode: evt.ExitCode})
			slog.Info("session exited", "session_id", id, "exit_code", evt.ExitCode)
		}
	}
}

// emit sends on the outbound stream without blocking. A slow or
// torn-down consumer loses events; it never stalls or crashes the
// manager.
func (m *Manager) emit(evt Event) {
	select {
	case m.events <- evt:
	default:
		slog.Debug("event stream full, dropping event", "session_id", evt.SessionID, "type", evt.Type)
	}
}

// Write feeds data through the session's command tracker and then to the
// process unchanged. Unknown ids are a no-op: a keystroke racing a
// process exit is normal, not an error. The live input-buffer snapshot
// is re-broadcast after every call.
func (m *Manager) Write(id, data string) {
	m.mu.Lock()
	ls, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	commands := ls.tracker.Feed(data)
	buffer := ls.tracker.Buffer()
	sess := ls.sess
	m.mu.Unlock()

	for _, cmd := range commands {
		m.emit(Event{Type: EventCommand, SessionID: id, Data: cmd})
		m.recordHistory(id, cmd)
	}

	if _, err := sess.Write([]byte(data)); err != nil {
		slog.Debug("write to exited session dropped", "session_id", id, "error", err)
	}

	m.emit(Event{Type: EventInputBuffer, SessionID: id, Data: buffer})
}

func (m *Manager) recordHistory(id, cmd string) {
	if m.history == nil {
		return
	}
	go func() {
		if err := m.history.Record(context.Background(), id, cmd); err != nil {
			slog.Warn("failed to record command history", "session_id", id, "error", err)
		}
	}()
}

// RunCommand injects a fully-formed command. Line breaks inside the text
// are collapsed to single spaces before exactly one terminator is
// appended, so an injected multi-line string can never execute as
// multiple sequential commands.
func (m *Manager) RunCommand(id, text string) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
	sanitized := strings.Join(fields, " ")
	if sanitized == "" {
		return
	}
	m.Write(id, sanitized+"\r")
}

// Resize changes a session's terminal geometry. Unknown ids and resize
// failures on just-exited processes are swallowed.
func (m *Manager) Resize(id string, cols, rows uint16) {
	m.mu.Lock()
	ls, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := ls.sess.Resize(cols, rows); err != nil {
		slog.Debug("resize on exited session dropped", "session_id", id, "error", err)
	}
}

// SendSignal writes the control byte for a named signal to the session's
// input stream. Unrecognized names are a no-op.
func (m *Manager) SendSignal(id, name string) {
	b, ok := signalBytes[name]
	if !ok {
		return
	}
	m.mu.Lock()
	ls, found := m.sessions[id]
	m.mu.Unlock()
	if !found {
		return
	}
	if _, err := ls.sess.Write([]byte{b}); err != nil {
		slog.Debug("signal to exited session dropped", "session_id", id, "signal", name)
	}
}

// Cwd resolves the session's current working directory. It never fails:
// an unknown id, a query timeout, or unparsable output all yield the
// home directory.
func (m *Manager) Cwd(ctx context.Context, id string) string {
	home := shell.HomeDir()

	m.mu.Lock()
	ls, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return home
	}
	pid := ls.sess.Pid()

	ctx, cancel := context.WithTimeout(ctx, m.cwdTimeout)
	defer cancel()

	cwd, err := resolveCwd(ctx, pid)
	if err != nil {
		slog.Debug("cwd lookup failed", "session_id", id, "error", err)
		return home
	}

	// The query crossed an async boundary; the session may have been
	// killed while it was in flight.
	m.mu.Lock()
	_, stillLive := m.sessions[id]
	m.mu.Unlock()
	if !stillLive {
		return home
	}
	return cwd
}

// Kill terminates a session and removes it from the registry.
// Idempotent: killing an unknown id is a no-op.
func (m *Manager) Kill(id string) {
	m.mu.Lock()
	ls, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = ls.sess.Close()
	slog.Info("session killed", "session_id", id)
}

// KillAll terminates every session and drains the warm pool. The pool
// timer stops before session teardown so a maintenance cycle cannot race
// final cleanup. Idempotent.
func (m *Manager) KillAll() {
	if m.pool != nil {
		m.pool.Drain()
	}

	m.mu.Lock()
	doomed := make([]*liveSession, 0, len(m.sessions))
	for _, ls := range m.sessions {
		doomed = append(doomed, ls)
	}
	m.sessions = make(map[string]*liveSession)
	m.mu.Unlock()

	for _, ls := range doomed {
		_ = ls.sess.Close()
	}
	if len(doomed) > 0 {
		slog.Info("all sessions killed", "count", len(doomed))
	}
}

// Sessions returns a snapshot of live sessions, sorted by id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for id, ls := range m.sessions {
		infos = append(infos, SessionInfo{
			ID:        id,
			Pid:       ls.sess.Pid(),
			ShellPath: ls.sess.ShellPath(),
		})
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
