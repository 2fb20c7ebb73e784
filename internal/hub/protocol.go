package hub

import "github.com/user/shellmux/internal/session"

// Server → client messages. Every message carries a type tag and, when
// session-scoped, the session id, so one connection multiplexes all
// tabs.

// DataMessage carries raw process output.
type DataMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Data    string `json:"data"`
}

// ExitMessage is terminal for a session.
type ExitMessage struct {
	Type     string `json:"type"`
	Session  string `json:"session"`
	ExitCode int    `json:"exit_code"`
}

// InputBufferMessage is the live snapshot of the user's current line.
type InputBufferMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Text    string `json:"text"`
}

// CommandMessage is the derived "command submitted" event.
type CommandMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Text    string `json:"text"`
	Ts      int64  `json:"ts"`
}

// CreatedMessage answers a create request with the process identity.
type CreatedMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Pid     int    `json:"pid"`
	Shell   string `json:"shell"`
}

// CwdMessage answers a cwd request.
type CwdMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Path    string `json:"path"`
}

// SessionsMessage lists the live sessions.
type SessionsMessage struct {
	Type string                `json:"type"`
	List []session.SessionInfo `json:"list"`
}

// ErrorMessage reports a failed request.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is every client → server request; Type selects which
// fields are meaningful.
type ClientMessage struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Data    string `json:"data,omitempty"`
	Text    string `json:"text,omitempty"`
	Name    string `json:"name,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
}
