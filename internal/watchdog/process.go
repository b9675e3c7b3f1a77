package watchdog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Launcher starts a new server process.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// Process is a running server child.
type Process interface {
	PID() int
	// Terminate asks the process to stop gracefully.
	Terminate() error
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err reports the exit error after Done is closed.
	Err() error
}

// PortFreer kills whatever still listens on a TCP port.
type PortFreer interface {
	FreePort(ctx context.Context, port int) error
}

// Probe checks one dependency.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// LsofPortFreer frees a port by killing the PIDs lsof reports for it.
type LsofPortFreer struct {
	// Kill sends SIGKILL to pid. Defaults to killPID.
	Kill func(pid int) error
}

func (f LsofPortFreer) FreePort(ctx context.Context, port int) error {
	out, err := exec.CommandContext(ctx, "lsof", "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		// lsof exits 1 when nothing matches.
		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("lsof tcp:%d: %w", port, err)
	}

	kill := f.Kill
	if kill == nil {
		kill = killPID
	}

	var errs []error
	for _, pid := range parsePIDs(out) {
		if pid == os.Getpid() {
			continue
		}
		if err := kill(pid); err != nil {
			errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

func parsePIDs(out []byte) []int {
	var pids []int
	seen := make(map[int]struct{})
	for _, field := range strings.Fields(string(bytes.TrimSpace(out))) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 {
			continue
		}
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		pids = append(pids, pid)
	}
	return pids
}
