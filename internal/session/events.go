package session

// EventType distinguishes the channels of the multiplexed outbound
// stream. One consumer subscription covers all sessions; routing to the
// right per-session handler is the dispatcher's job.
type EventType int

const (
	// EventData carries raw process output.
	EventData EventType = iota
	// EventExit is terminal: the shell process exited.
	EventExit
	// EventInputBuffer is the live snapshot of the user's current input
	// line, re-broadcast after every write.
	EventInputBuffer
	// EventCommand is the derived "user submitted a command" signal.
	EventCommand
)

// Event is a single notification on the manager's multiplexed stream.
type Event struct {
	Type      EventType
	SessionID string
	Data      string
	ExitCode  int
}

// SessionInfo is a read-only snapshot of session metadata.
type SessionInfo struct {
	ID        string `json:"id"`
	Pid       int    `json:"pid"`
	ShellPath string `json:"shell_path"`
}

// CreateResult identifies the spawned process for the caller.
type CreateResult struct {
	Pid       int    `json:"pid"`
	ShellPath string `json:"shell_path"`
}
