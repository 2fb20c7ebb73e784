package pty

// EventType distinguishes the kind of event produced by a Session.
type EventType int

const (
	// EventData indicates that new output was read from the PTY.
	EventData EventType = iota
	// EventExit indicates that the shell process has exited.
	EventExit
)

// Event is a single notification emitted by a Session.
type Event struct {
	Type     EventType
	Data     string
	ExitCode int
}
