// Package watchdog keeps the chat server process alive.
//
// A Supervisor launches the server, probes it and its storage backends on a
// fixed interval and restarts it when the transport stops answering or the
// process exits. Restarts are gated by a cooldown and capped; once the cap is
// reached the supervisor raises a terminal alert and stops trying until the
// server is seen healthy again.
package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/logging"
)

// Service names a probed dependency.
type Service string

const (
	ServiceTransport Service = "transport"
	ServiceCache     Service = "cache"
	ServiceLog       Service = "log"
	ServiceAdmin     Service = "admin"
)

// probeOrder fixes the order probes run in, so logs read the same on every tick.
var probeOrder = []Service{ServiceTransport, ServiceCache, ServiceLog, ServiceAdmin}

const (
	DefaultInterval           = 5 * time.Second
	DefaultProbeTimeout       = 2 * time.Second
	DefaultHealthyThreshold   = 3
	DefaultUnhealthyThreshold = 2
	DefaultCounterCap         = 5
	DefaultCooldown           = 60 * time.Second
	DefaultMaxRestartAttempts = 5
	DefaultGracePeriod        = 2 * time.Second
)

// ErrNoLauncher is returned by Run and Start when the supervisor has nothing to launch.
var ErrNoLauncher = errors.New("watchdog: no launcher configured")

// Options tune the supervisor. Zero values take the package defaults.
// Port is the TCP port freed before every relaunch; zero skips that step.
type Options struct {
	Interval           time.Duration
	ProbeTimeout       time.Duration
	HealthyThreshold   int
	UnhealthyThreshold int
	CounterCap         int
	Cooldown           time.Duration
	MaxRestartAttempts int
	GracePeriod        time.Duration
	Port               int
	Now                func() time.Time
}

func (o *Options) withDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.HealthyThreshold <= 0 {
		o.HealthyThreshold = DefaultHealthyThreshold
	}
	if o.UnhealthyThreshold <= 0 {
		o.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if o.CounterCap <= 0 {
		o.CounterCap = DefaultCounterCap
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.MaxRestartAttempts <= 0 {
		o.MaxRestartAttempts = DefaultMaxRestartAttempts
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// ServiceStatus is the health view of one probed service.
type ServiceStatus struct {
	Counter   int
	Healthy   bool
	LastError string
}

// Status is a snapshot of the supervisor state.
type Status struct {
	Services        map[Service]ServiceStatus
	RestartAttempts int
	LastRestart     time.Time
	Alert           bool
	PID             int
}

// Supervisor owns the server child process.
type Supervisor struct {
	launcher Launcher
	freer    PortFreer
	probes   map[Service]Probe
	logger   logging.Logger
	opts     Options

	mu          sync.Mutex
	proc        Process
	services    map[Service]*ServiceStatus
	attempts    int
	lastAttempt time.Time
	alerted     bool
}

// NewSupervisor wires a supervisor. freer may be nil when the port never
// needs reclaiming; probes without a transport entry never cause restarts.
func NewSupervisor(launcher Launcher, freer PortFreer, probes map[Service]Probe, logger logging.Logger, opts Options) *Supervisor {
	opts.withDefaults()
	s := &Supervisor{
		launcher: launcher,
		freer:    freer,
		probes:   probes,
		logger:   logger.With("module", "watchdog"),
		opts:     opts,
		services: make(map[Service]*ServiceStatus),
	}
	for name := range probes {
		s.services[name] = &ServiceStatus{}
	}
	return s
}

// Start launches the server for the first time. The launch opens the
// cooldown window, so no restart happens before the server had a chance to
// become healthy.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.launcher == nil {
		return ErrNoLauncher
	}
	proc, err := s.launcher.Launch(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.lastAttempt = s.opts.Now()
	s.mu.Unlock()

	s.logger.Info(ctx, "server launched", "pid", proc.PID())
	return nil
}

// Run starts the server and supervises it until ctx is cancelled, then
// stops the child gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		var exited <-chan struct{}
		if proc := s.current(); proc != nil {
			exited = proc.Done()
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-exited:
			s.handleExit(ctx)
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one probe round and acts on the result.
func (s *Supervisor) Tick(ctx context.Context) {
	for _, name := range probeOrder {
		probe, ok := s.probes[name]
		if !ok {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
		err := probe.Check(pctx)
		cancel()
		s.record(ctx, name, err)
	}

	switch {
	case s.current() == nil:
		s.restart(ctx, "server not running")
	case s.transportDown():
		s.restart(ctx, "transport unhealthy")
	}
}

// Status returns a copy of the current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Services:        make(map[Service]ServiceStatus, len(s.services)),
		RestartAttempts: s.attempts,
		LastRestart:     s.lastAttempt,
		Alert:           s.alerted,
	}
	for name, svc := range s.services {
		st.Services[name] = *svc
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
	}
	return st
}

func (s *Supervisor) current() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

func (s *Supervisor) record(ctx context.Context, name Service, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc := s.services[name]
	if err == nil {
		svc.Counter = min(svc.Counter+1, s.opts.CounterCap)
		svc.LastError = ""
	} else {
		svc.Counter = max(svc.Counter-1, 0)
		svc.LastError = err.Error()
		s.logger.Debug(ctx, "probe failed", "service", string(name), "error", err)
	}

	healthy := svc.Counter >= s.opts.HealthyThreshold
	if healthy == svc.Healthy {
		return
	}
	svc.Healthy = healthy

	if !healthy {
		s.logger.Warn(ctx, "service unhealthy", "service", string(name), "counter", svc.Counter)
		return
	}
	s.logger.Info(ctx, "service healthy", "service", string(name), "counter", svc.Counter)

	if name == ServiceTransport && s.attempts > 0 {
		s.logger.Info(ctx, "restart attempts reset", "attempts", s.attempts)
		s.attempts = 0
		s.alerted = false
	}
}

func (s *Supervisor) transportDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[ServiceTransport]
	return ok && svc.Counter < s.opts.UnhealthyThreshold
}

func (s *Supervisor) handleExit(ctx context.Context) {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return
	}
	s.logger.Warn(ctx, "server exited", "pid", proc.PID(), "error", proc.Err())
	s.restart(ctx, "process exited")
}

// admit decides whether a restart may happen now and, if so, books the attempt.
func (s *Supervisor) admit(ctx context.Context, reason string) bool {
	now := s.opts.Now()
	if since := now.Sub(s.lastAttempt); since < s.opts.Cooldown {
		s.logger.Debug(ctx, "restart suppressed by cooldown", "reason", reason, "remaining", s.opts.Cooldown-since)
		return false
	}
	if s.attempts >= s.opts.MaxRestartAttempts {
		if !s.alerted {
			s.alerted = true
			s.logger.Error(ctx, "restart attempts exhausted, manual intervention required",
				"attempts", s.attempts, "reason", reason)
		}
		return false
	}
	s.attempts++
	s.lastAttempt = now
	return true
}

func (s *Supervisor) restart(ctx context.Context, reason string) {
	s.mu.Lock()
	if !s.admit(ctx, reason) {
		s.mu.Unlock()
		return
	}
	attempt := s.attempts
	old := s.proc
	s.proc = nil
	s.mu.Unlock()

	s.logger.Warn(ctx, "restarting server", "reason", reason, "attempt", attempt, "max", s.opts.MaxRestartAttempts)

	if old != nil {
		s.terminate(ctx, old)
	}
	if s.freer != nil && s.opts.Port > 0 {
		if err := s.freer.FreePort(ctx, s.opts.Port); err != nil {
			s.logger.Warn(ctx, "free port failed", "port", s.opts.Port, "error", err)
		}
	}

	proc, err := s.launcher.Launch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.services[ServiceTransport]; ok {
		svc.Counter = 0
		svc.Healthy = false
	}
	if err != nil {
		s.logger.Error(ctx, "relaunch failed", "attempt", attempt, "error", err)
		return
	}
	s.proc = proc
	s.logger.Info(ctx, "server relaunched", "pid", proc.PID(), "attempt", attempt)
}

// terminate asks proc to stop and kills it once the grace period runs out.
func (s *Supervisor) terminate(ctx context.Context, proc Process) {
	if err := proc.Terminate(); err != nil {
		s.logger.Debug(ctx, "terminate failed", "pid", proc.PID(), "error", err)
	}

	timer := time.NewTimer(s.opts.GracePeriod)
	defer timer.Stop()

	select {
	case <-proc.Done():
		return
	case <-timer.C:
	}

	s.logger.Warn(ctx, "server ignored terminate, killing", "pid", proc.PID())
	if err := proc.Kill(); err != nil {
		s.logger.Warn(ctx, "kill failed", "pid", proc.PID(), "error", err)
	}
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping server", "pid", proc.PID())
	s.terminate(ctx, proc)
}
