package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeProcs simulates a process table for signal injection.
type fakeProcs struct {
	mu        sync.Mutex
	alive     map[int]bool
	signals   map[int][]syscall.Signal
	termKills bool
}

func newFakeProcs(termKills bool) *fakeProcs {
	return &fakeProcs{
		alive:     make(map[int]bool),
		signals:   make(map[int][]syscall.Signal),
		termKills: termKills,
	}
}

func (f *fakeProcs) spawn(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = true
}

func (f *fakeProcs) signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive[pid] {
		return syscall.ESRCH
	}
	if sig != syscall.Signal(0) {
		f.signals[pid] = append(f.signals[pid], sig)
	}
	if sig == syscall.SIGKILL || (sig == syscall.SIGTERM && f.termKills) {
		f.alive[pid] = false
	}
	return nil
}

func (f *fakeProcs) sent(pid int) []syscall.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syscall.Signal(nil), f.signals[pid]...)
}

func newTestManager(t *testing.T, procs *fakeProcs) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		RunDir:          t.TempDir(),
		StartupDeadline: 500 * time.Millisecond,
		StopGrace:       100 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
	}, fixedClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}, zap.NewNop())
	require.NoError(t, err)
	m.signal = procs.signal
	return m
}

// healthServer runs a real /healthz endpoint and returns its host:port.
func healthServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestStartWritesIdentityAndWaitsForHealth(t *testing.T) {
	procs := newFakeProcs(true)
	m := newTestManager(t, procs)
	addr := healthServer(t)

	m.launch = func(ServiceSpec) (int, error) {
		procs.spawn(4242)
		return 4242, nil
	}

	spec := ServiceSpec{Name: "scraper", Addr: addr}
	require.NoError(t, m.Start(context.Background(), spec))

	id, err := m.readIdentity("scraper")
	require.NoError(t, err)
	require.Equal(t, "scraper", id.Service)
	require.Equal(t, 4242, id.PID)
	require.Equal(t, addr, id.Addr)
	require.False(t, id.StartedAt.IsZero())
}

func TestStartRefusesLiveService(t *testing.T) {
	procs := newFakeProcs(true)
	m := newTestManager(t, procs)

	procs.spawn(100)
	require.NoError(t, m.writeIdentity(Identity{
		Service: "scraper", PID: 100, Addr: "127.0.0.1:1", StartedAt: time.Now(),
	}))

	launched := false
	m.launch = func(ServiceSpec) (int, error) {
		launched = true
		return 0, nil
	}

	err := m.Start(context.Background(), ServiceSpec{Name: "scraper", Addr: "127.0.0.1:1"})
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.False(t, launched)
}

func TestStartDiscardsStaleIdentity(t *testing.T) {
	procs := newFakeProcs(true)
	m := newTestManager(t, procs)
	addr := healthServer(t)

	// PID 100 is not in the fake process table: the record is stale.
	require.NoError(t, m.writeIdentity(Identity{
		Service: "scraper", PID: 100, Addr: addr, StartedAt: time.Now().Add(-time.Hour),
	}))

	m.launch = func(ServiceSpec) (int, error) {
		procs.spawn(200)
		return 200, nil
	}

	require.NoError(t, m.Start(context.Background(), ServiceSpec{Name: "scraper", Addr: addr}))

	id, err := m.readIdentity("scraper")
	require.NoError(t, err)
	require.Equal(t, 200, id.PID)
}

func TestStartUnhealthyServiceIsStoppedAndCleaned(t *testing.T) {
	procs := newFakeProcs(true)
	m := newTestManager(t, procs)
	m.cfg.StartupDeadline = 50 * time.Millisecond

	m.launch = func(ServiceSpec) (int, error) {
		procs.spawn(300)
		return 300, nil
	}

	// Nothing listens on the addr, so health never succeeds.
	err := m.Start(context.Background(), ServiceSpec{Name: "scraper", Addr: "127.0.0.1:1"})
	require.Error(t, err)

	_, err = m.readIdentity("scraper")
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Contains(t, procs.sent(300), syscall.SIGTERM)
}

func TestStopGraceful(t *testing.T) {
	procs := newFakeProcs(true)
	m := newTestManager(t, procs)

	procs.spawn(400)
	require.NoError(t, m.writeIdentity(Identity{
		Service: "sentiment", PID: 400, Addr: "127.0.0.1:1", StartedAt: time.Now(),
	}))

	require.NoError(t, m.Stop(context.Background(), "sentiment"))

	sigs := procs.sent(400)
	require.Equal(t, []syscall.Signal{syscall.SIGTERM}, sigs)
	_, err := m.readIdentity("sentiment")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStopEscalatesToKill(t *testing.T) {
	procs := newFakeProcs(false) // ignores SIGTERM
	m := newTestManager(t, procs)

	procs.spawn(500)
	require.NoError(t, m.writeIdentity(Identity{
		Service: "sentiment", PID: 500, Addr: "127.0.0.1:1", StartedAt: time.Now(),
	}))

	require.NoError(t, m.Stop(context.Background(), "sentiment"))

	sigs := procs.sent(500)
	require.Contains(t, sigs, syscall.SIGTERM)
	require.Contains(t, sigs, syscall.SIGKILL)
	_, err := m.readIdentity("sentiment")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStopMissingServiceIsNoop(t *testing.T) {
	m := newTestManager(t, newFakeProcs(true))
	require.NoError(t, m.Stop(context.Background(), "ghost"))
}

func TestStopDeadServiceRemovesIdentity(t *testing.T) {
	procs := newFakeProcs(true)
	m := newTestManager(t, procs)

	require.NoError(t, m.writeIdentity(Identity{
		Service: "scraper", PID: 600, Addr: "127.0.0.1:1", StartedAt: time.Now(),
	}))

	require.NoError(t, m.Stop(context.Background(), "scraper"))
	_, err := m.readIdentity("scraper")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatusReportsPerService(t *testing.T) {
	procs := newFakeProcs(true)
	m := newTestManager(t, procs)
	addr := healthServer(t)

	procs.spawn(700)
	require.NoError(t, m.writeIdentity(Identity{
		Service: "scraper", PID: 700, Addr: addr, StartedAt: time.Now(),
	}))

	specs := []ServiceSpec{
		{Name: "scraper", Addr: addr},
		{Name: "sentiment", Addr: "127.0.0.1:1"},
	}
	statuses := m.Status(context.Background(), specs)
	require.Len(t, statuses, 2)

	require.True(t, statuses[0].Running)
	require.True(t, statuses[0].Healthy)
	require.Equal(t, 700, statuses[0].PID)

	require.False(t, statuses[1].Running)
	require.False(t, statuses[1].Healthy)
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	procs := newFakeProcs(true)
	m := newTestManager(t, procs)
	m.cfg.StartupDeadline = 50 * time.Millisecond
	addr := healthServer(t)

	nextPID := 800
	m.launch = func(ServiceSpec) (int, error) {
		nextPID++
		procs.spawn(nextPID)
		return nextPID, nil
	}

	specs := []ServiceSpec{
		{Name: "scraper", Addr: addr},
		{Name: "sentiment", Addr: "127.0.0.1:1"}, // never healthy
	}
	err := m.StartAll(context.Background(), specs)
	require.Error(t, err)

	// Both identity files are gone: the failed start cleaned up and the
	// healthy one was rolled back.
	_, err = m.readIdentity("scraper")
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = m.readIdentity("sentiment")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadIdentityCorruptFile(t *testing.T) {
	m := newTestManager(t, newFakeProcs(true))
	require.NoError(t, os.MkdirAll(m.cfg.RunDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.cfg.RunDir, "scraper.json"), []byte("{oops"), 0o644))

	_, err := m.readIdentity("scraper")
	require.Error(t, err)
	require.NotErrorIs(t, err, os.ErrNotExist)
}
