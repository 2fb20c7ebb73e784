package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// resolveCwd discovers the current working directory of a live process
// via a read-only, out-of-band query. On linux the /proc symlink answers
// directly; elsewhere lsof lists the cwd descriptor. Both paths are
// argv-literal invocations bounded by ctx; the caller supplies the
// timeout and the safe fallback.
func resolveCwd(ctx context.Context, pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("cwd: invalid pid %d", pid)
	}

	if cwd, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid)); err == nil {
		return cwd, nil
	}

	return lsofCwd(ctx, pid)
}

// lsofCwd runs `lsof -a -p PID -d cwd -Fn` and parses the machine
// readable output: the line prefixed with 'n' names the directory.
func lsofCwd(ctx context.Context, pid int) (string, error) {
	cmd := exec.CommandContext(ctx, "lsof", "-a", "-p", fmt.Sprint(pid), "-d", "cwd", "-Fn")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("cwd: lsof for pid %d: %w", pid, err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		if rest, ok := strings.CutPrefix(line, "n"); ok && rest != "" {
			return rest, nil
		}
	}
	return "", fmt.Errorf("cwd: no cwd entry in lsof output for pid %d", pid)
}
