package watchdog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExecLauncher runs the server binary in its own process group so that
// signals reach every process it spawned.
type ExecLauncher struct {
	Path   string
	Args   []string
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// Launch starts the binary. The child outlives ctx; the supervisor stops it
// explicitly through the returned Process.
func (l *ExecLauncher) Launch(_ context.Context) (Process, error) {
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Env = l.Env
	cmd.Dir = l.Dir
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Path, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Terminate() error { return p.signal(unix.SIGTERM) }

func (p *execProcess) Kill() error { return p.signal(unix.SIGKILL) }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// signal delivers sig to the whole process group.
func (p *execProcess) signal(sig syscall.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func killPID(pid int) error {
	err := unix.Kill(pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
