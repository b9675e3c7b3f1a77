package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/pairchat/internal/watchdog"
	"github.com/dmitrijs2005/pairchat/internal/watchdog/config"
)

func executeCLI(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fixedProbes(results map[watchdog.Service]error) func(*config.Config) map[watchdog.Service]watchdog.Probe {
	return func(*config.Config) map[watchdog.Service]watchdog.Probe {
		probes := make(map[watchdog.Service]watchdog.Probe, len(results))
		for name, err := range results {
			probes[name] = watchdog.ProbeFunc(func(context.Context) error { return err })
		}
		return probes
	}
}

func TestCheck_AllHealthy(t *testing.T) {
	a := &app{probes: fixedProbes(map[watchdog.Service]error{
		watchdog.ServiceTransport: nil,
		watchdog.ServiceCache:     nil,
		watchdog.ServiceLog:       nil,
	})}

	out, err := executeCLI(t, a, "check")
	require.NoError(t, err)
	assert.Equal(t, "transport ok\ncache     ok\nlog       ok\n", out)
}

func TestCheck_FailureExitsNonZero(t *testing.T) {
	a := &app{probes: fixedProbes(map[watchdog.Service]error{
		watchdog.ServiceTransport: nil,
		watchdog.ServiceLog:       errors.New("server selection timeout"),
	})}

	out, err := executeCLI(t, a, "check")
	require.ErrorIs(t, err, errCheckFailed)
	assert.Contains(t, out, "transport ok")
	assert.Contains(t, out, "log       FAIL server selection timeout")
}

func TestCheck_InvalidConfig(t *testing.T) {
	a := &app{probes: fixedProbes(nil)}
	_, err := executeCLI(t, a, "check", "--port=-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port out of range")
}

func TestRun_StartFailure(t *testing.T) {
	a := &app{
		probes:   fixedProbes(nil),
		launcher: func(*config.Config) watchdog.Launcher { return &watchdog.ExecLauncher{Path: "/nonexistent/pairchat-server"} },
	}
	_, err := executeCLI(t, a, "run", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/pairchat-server")
}

func TestBuildProbes(t *testing.T) {
	var cfg config.Config
	cfg.LoadDefaults()

	probes := buildProbes(&cfg)
	assert.Len(t, probes, 4)
	assert.Equal(t, watchdog.HTTPHealthCheck{URL: cfg.TransportURL}, probes[watchdog.ServiceTransport])
	assert.Equal(t, watchdog.GRPCHealthProbe{Addr: cfg.AdminAddr}, probes[watchdog.ServiceAdmin])

	cfg.AdminAddr = ""
	cfg.RedisURL = ""
	probes = buildProbes(&cfg)
	assert.NotContains(t, probes, watchdog.ServiceAdmin)
	assert.NotContains(t, probes, watchdog.ServiceCache)
	assert.Contains(t, probes, watchdog.ServiceLog)
}

func TestRun_StopsOnCancel(t *testing.T) {
	launched := make(chan struct{}, 1)
	a := &app{
		probes: fixedProbes(map[watchdog.Service]error{watchdog.ServiceTransport: nil}),
		launcher: func(*config.Config) watchdog.Launcher {
			return launcherFunc(func(context.Context) (watchdog.Process, error) {
				launched <- struct{}{}
				return newIdleProcess(), nil
			})
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newRootCmd(a)
	cmd.SetArgs([]string{"run", "--log-level", "error", "--port", "0"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	select {
	case <-launched:
	case <-time.After(time.Second):
		t.Fatal("server was not launched")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

type launcherFunc func(ctx context.Context) (watchdog.Process, error)

func (f launcherFunc) Launch(ctx context.Context) (watchdog.Process, error) { return f(ctx) }

type idleProcess struct {
	done chan struct{}
}

func newIdleProcess() *idleProcess { return &idleProcess{done: make(chan struct{})} }

func (p *idleProcess) PID() int              { return 42 }
func (p *idleProcess) Terminate() error      { close(p.done); return nil }
func (p *idleProcess) Kill() error           { return nil }
func (p *idleProcess) Done() <-chan struct{} { return p.done }
func (p *idleProcess) Err() error            { return nil }
