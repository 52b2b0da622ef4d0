// Package orchestrator launches the scraper and sentiment services as
// separate OS processes, tracks them through per-service identity files,
// and stops them gracefully with a kill escalation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start when a live identity record exists
// for the service. Stale records (dead PID) are discarded, not an error.
var ErrAlreadyRunning = errors.New("orchestrator: service already running")

// ServiceSpec describes one managed service.
type ServiceSpec struct {
	// Name is the identity file stem, e.g. "scraper".
	Name string
	// Addr is the host:port the service listens on.
	Addr string
	// Args re-invoke the current binary with the service subcommand.
	Args []string
}

// ServiceStatus is a point-in-time report for one service.
type ServiceStatus struct {
	Service   string    `json:"service"`
	Running   bool      `json:"running"`
	Healthy   bool      `json:"healthy"`
	PID       int       `json:"pid,omitempty"`
	Addr      string    `json:"addr,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Config controls Manager behavior.
type Config struct {
	// RunDir holds identity files and service logs.
	RunDir string
	// StartupDeadline bounds the wait for a launched service to report
	// healthy (default 10s).
	StartupDeadline time.Duration
	// StopGrace is how long SIGTERM gets before SIGKILL (default 5s).
	StopGrace time.Duration
	// PollInterval paces liveness and health polling (default 200ms).
	PollInterval time.Duration
}

const (
	defaultStartupDeadline = 10 * time.Second
	defaultStopGrace       = 5 * time.Second
	defaultPollInterval    = 200 * time.Millisecond
)

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

type launchFunc func(spec ServiceSpec) (int, error)

type signalFunc func(pid int, sig syscall.Signal) error

// Manager supervises service processes. It holds no state beyond config;
// the run directory is the source of truth, so a new Manager in a new
// process sees the same world.
type Manager struct {
	cfg      Config
	clock    Clock
	logger   *zap.Logger
	client   *http.Client
	execPath string

	// Injection points for tests.
	launch launchFunc
	signal signalFunc
}

// NewManager constructs a Manager. The current executable is resolved once
// so child processes re-invoke the same binary.
func NewManager(cfg Config, clock Clock, logger *zap.Logger) (*Manager, error) {
	if cfg.RunDir == "" {
		return nil, fmt.Errorf("orchestrator: run dir is required")
	}
	if cfg.StartupDeadline <= 0 {
		cfg.StartupDeadline = defaultStartupDeadline
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	m := &Manager{
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		client:   &http.Client{Timeout: 2 * time.Second},
		execPath: execPath,
	}
	m.launch = m.launchProcess
	m.signal = defaultSignal
	return m, nil
}

// Start launches one service and waits until it reports healthy or the
// startup deadline passes. A live identity record means the service is
// already running; a stale one is discarded with a log line.
func (m *Manager) Start(ctx context.Context, spec ServiceSpec) error {
	id, err := m.readIdentity(spec.Name)
	switch {
	case err == nil:
		if m.alive(id.PID) {
			return fmt.Errorf("%s (pid %d): %w", spec.Name, id.PID, ErrAlreadyRunning)
		}
		m.logger.Info("discarding stale identity record",
			zap.String("service", spec.Name), zap.Int("pid", id.PID))
		if err := m.removeIdentity(spec.Name); err != nil {
			return err
		}
	case errors.Is(err, os.ErrNotExist):
		// Never started; nothing to check.
	default:
		// Corrupt record. Replace it rather than refusing to start forever.
		m.logger.Warn("replacing unreadable identity record",
			zap.String("service", spec.Name), zap.Error(err))
		if err := m.removeIdentity(spec.Name); err != nil {
			return err
		}
	}

	pid, err := m.launch(spec)
	if err != nil {
		return fmt.Errorf("launch %s: %w", spec.Name, err)
	}
	if err := m.writeIdentity(Identity{
		Service:   spec.Name,
		PID:       pid,
		Addr:      spec.Addr,
		StartedAt: m.clock.Now(),
	}); err != nil {
		m.killAndReap(pid)
		return err
	}

	if err := m.waitHealthy(ctx, spec.Addr); err != nil {
		m.logger.Error("service failed to become healthy, stopping it",
			zap.String("service", spec.Name), zap.Int("pid", pid), zap.Error(err))
		_ = m.stopPID(pid)
		_ = m.removeIdentity(spec.Name)
		return fmt.Errorf("start %s: %w", spec.Name, err)
	}

	m.logger.Info("service started",
		zap.String("service", spec.Name),
		zap.Int("pid", pid),
		zap.String("addr", spec.Addr))
	return nil
}

// StartAll launches services in order. On failure it stops the ones already
// started so a partial stack never lingers.
func (m *Manager) StartAll(ctx context.Context, specs []ServiceSpec) error {
	for i, spec := range specs {
		if err := m.Start(ctx, spec); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.Stop(ctx, specs[j].Name); stopErr != nil {
					m.logger.Error("rollback stop failed",
						zap.String("service", specs[j].Name), zap.Error(stopErr))
				}
			}
			return err
		}
	}
	return nil
}

// Stop terminates one service: SIGTERM, wait out the grace period, then
// SIGKILL. The identity file is removed regardless of how the process died.
func (m *Manager) Stop(_ context.Context, service string) error {
	id, err := m.readIdentity(service)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		_ = m.removeIdentity(service)
		return nil
	}
	defer func() { _ = m.removeIdentity(service) }()

	if !m.alive(id.PID) {
		m.logger.Info("service already stopped",
			zap.String("service", service), zap.Int("pid", id.PID))
		return nil
	}
	if err := m.stopPID(id.PID); err != nil {
		return fmt.Errorf("stop %s: %w", service, err)
	}
	m.logger.Info("service stopped", zap.String("service", service), zap.Int("pid", id.PID))
	return nil
}

// StopAll stops services in reverse order. Errors are collected, not
// short-circuited; every service gets its stop attempt.
func (m *Manager) StopAll(ctx context.Context, specs []ServiceSpec) error {
	var errs []error
	for i := len(specs) - 1; i >= 0; i-- {
		if err := m.Stop(ctx, specs[i].Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports liveness and health for each service.
func (m *Manager) Status(ctx context.Context, specs []ServiceSpec) []ServiceStatus {
	out := make([]ServiceStatus, 0, len(specs))
	for _, spec := range specs {
		st := ServiceStatus{Service: spec.Name}
		id, err := m.readIdentity(spec.Name)
		if err == nil && m.alive(id.PID) {
			st.Running = true
			st.PID = id.PID
			st.Addr = id.Addr
			st.StartedAt = id.StartedAt
			st.Healthy = m.healthy(ctx, id.Addr)
		}
		out = append(out, st)
	}
	return out
}

// alive probes a PID with signal 0.
func (m *Manager) alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return m.signal(pid, syscall.Signal(0)) == nil
}

// stopPID escalates SIGTERM to SIGKILL after the grace period.
func (m *Manager) stopPID(pid int) error {
	if err := m.signal(pid, syscall.SIGTERM); err != nil {
		// Exited between the liveness probe and now.
		return nil
	}
	deadline := time.Now().Add(m.cfg.StopGrace)
	for time.Now().Before(deadline) {
		if !m.alive(pid) {
			return nil
		}
		time.Sleep(m.cfg.PollInterval)
	}
	m.logger.Warn("grace period expired, killing process", zap.Int("pid", pid))
	if err := m.signal(pid, syscall.SIGKILL); err != nil {
		return nil
	}
	return nil
}

func (m *Manager) killAndReap(pid int) {
	_ = m.signal(pid, syscall.SIGKILL)
}

// waitHealthy polls /healthz until it answers 200 or the deadline passes.
func (m *Manager) waitHealthy(ctx context.Context, addr string) error {
	deadline := time.Now().Add(m.cfg.StartupDeadline)
	for {
		if m.healthy(ctx, addr) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("not healthy within %s", m.cfg.StartupDeadline)
		}
		select {
		case <-time.After(m.cfg.PollInterval):
		case <-ctx.Done():
			return fmt.Errorf("health wait: %w", ctx.Err())
		}
	}
}

func (m *Manager) healthy(ctx context.Context, addr string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// launchProcess starts the service as a detached child of the current
// binary, its output appended to a log file in the run dir.
func (m *Manager) launchProcess(spec ServiceSpec) (int, error) {
	if err := os.MkdirAll(m.cfg.RunDir, 0o755); err != nil {
		return 0, fmt.Errorf("create run dir: %w", err)
	}
	logPath := filepath.Join(m.cfg.RunDir, spec.Name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open service log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(m.execPath, spec.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start process: %w", err)
	}
	pid := cmd.Process.Pid
	// Reap the child when it exits so stopped services do not linger as
	// zombies while this process is alive.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func defaultSignal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
