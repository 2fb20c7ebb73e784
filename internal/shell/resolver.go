// Package shell determines which login shell to spawn for new sessions.
package shell

import (
	"bufio"
	"errors"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"strings"
)

// fallbackShells is tried in order when neither the directory service nor
// $SHELL yields a usable binary.
var fallbackShells = []string{"/bin/zsh", "/bin/bash", "/bin/sh"}

// Resolve returns the path of the user's login shell.
//
// The directory service is consulted first because $SHELL is inherited
// from the environment and may have been tampered with; the environment
// value is only accepted if it points at an existing executable. Every
// candidate is checked on disk before being returned, and the result is
// only ever used as a literal argv[0], never passed through a command
// interpreter.
func Resolve() (string, error) {
	if sh := directoryServiceShell(); isExecutable(sh) {
		return sh, nil
	}

	if sh := os.Getenv("SHELL"); isExecutable(sh) {
		return sh, nil
	}

	for _, sh := range fallbackShells {
		if isExecutable(sh) {
			return sh, nil
		}
	}

	return "", errors.New("shell: no usable login shell found")
}

// directoryServiceShell looks up the login shell recorded for the current
// user in the platform directory service. Returns "" when the lookup
// fails; callers fall through to the next candidate.
func directoryServiceShell() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return dsclUserShell(u.Username)
	default:
		return passwdShell(u.Username)
	}
}

// dsclUserShell reads the UserShell attribute via dscl. The username is
// passed as a discrete argument, so names containing shell metacharacters
// cannot alter the command.
func dsclUserShell(username string) string {
	out, err := exec.Command("dscl", ".", "-read", "/Users/"+username, "UserShell").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if rest, ok := strings.CutPrefix(line, "UserShell:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// passwdShell parses /etc/passwd for the user's shell field.
func passwdShell(username string) string {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) >= 7 && fields[0] == username {
			return strings.TrimSpace(fields[6])
		}
	}
	return ""
}

// isExecutable reports whether path names an existing regular file with
// at least one execute bit set.
func isExecutable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// HomeDir returns the user's home directory, falling back to /tmp when it
// cannot be determined. Used as the working directory for new sessions
// and as the safe default for failed cwd lookups.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "/tmp"
	}
	return home
}
