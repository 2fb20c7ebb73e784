// Package pty spawns and supervises shell processes attached to
// pseudo-terminals.
package pty

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
)

// Session wraps a shell process running inside a PTY.
type Session struct {
	shellPath string
	createdAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	events   chan Event
	readDone chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Start spawns shellPath inside a new PTY with the given geometry.
// The shell path must already be validated; it is used as a literal
// argv[0] with no arguments and no interpreter in between.
func Start(shellPath, workDir string, cols, rows uint16) (*Session, error) {
	if shellPath == "" {
		return nil, errors.New("pty: shell path must not be empty")
	}
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	cmd := exec.Command(shellPath)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: cols,
		Rows: rows,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		shellPath: shellPath,
		createdAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		events:    make(chan Event, 1024),
		readDone:  make(chan struct{}),
	}

	go s.readPump()
	go s.waitExit()

	return s, nil
}

// readPump reads data from the PTY fd and sends EventData events.
// It runs until the PTY is closed or any read error occurs.
func (s *Session) readPump() {
	defer close(s.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.events <- Event{
				Type: EventData,
				Data: string(buf[:n]),
			}
		}
		if err != nil {
			break
		}
	}
}

// waitExit waits for the shell process to exit, then sends an EventExit
// event carrying the exit code and closes the events channel. The exit
// event goes out only after the read pump has drained, so consumers see
// every output chunk before the exit.
func (s *Session) waitExit() {
	err := s.cmd.Wait()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	<-s.readDone

	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	s.events <- Event{
		Type:     EventExit,
		ExitCode: code,
	}
	close(s.events)
}

// ShellPath returns the path of the spawned shell binary.
func (s *Session) ShellPath() string { return s.shellPath }

// Pid returns the process id of the shell, or -1 if it never started.
func (s *Session) Pid() int {
	if s.cmd.Process == nil {
		return -1
	}
	return s.cmd.Process.Pid
}

// CreatedAt returns the spawn time. The warm pool uses this for age
// eviction.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Events returns the read-only channel of session events.
func (s *Session) Events() <-chan Event { return s.events }

// Write sends data to the PTY (and therefore to the shell's stdin).
func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("pty: session is closed")
	}
	return s.ptmx.Write(data)
}

// Resize changes the PTY window size.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("pty: session is closed")
	}
	return creackpty.Setsize(s.ptmx, &creackpty.Winsize{
		Cols: cols,
		Rows: rows,
	})
}

// IsClosed reports whether the shell process has exited or the session
// was closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close terminates the shell process (SIGTERM) and closes the PTY fd.
// It is safe to call Close multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}

		err = s.ptmx.Close()
	})
	return err
}
