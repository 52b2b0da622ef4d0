package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubScraper struct {
	name         string
	availableErr error
	listings     []RawListing
	searchErr    error
	panicOnCall  bool
	delay        time.Duration
	ignoreCtx    bool
}

func (s *stubScraper) Name() string { return s.name }

func (s *stubScraper) Available(_ context.Context) error { return s.availableErr }

func (s *stubScraper) Search(ctx context.Context, _ string) ([]RawListing, error) {
	if s.panicOnCall {
		panic("scraper exploded")
	}
	if s.delay > 0 {
		if s.ignoreCtx {
			time.Sleep(s.delay)
		} else {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return s.listings, s.searchErr
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0, nil)

	require.ErrorIs(t, r.Register(nil), ErrInvalidPlugin)
	require.ErrorIs(t, r.Register(&stubScraper{name: ""}), ErrInvalidPlugin)

	require.NoError(t, r.Register(&stubScraper{name: "alpha"}))
	require.ErrorIs(t, r.Register(&stubScraper{name: "alpha"}), ErrInvalidPlugin)

	require.Equal(t, []string{"alpha"}, r.Names())
}

func TestActive_ExcludesWithDiagnostics(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0, nil)
	require.NoError(t, r.Register(&stubScraper{name: "up"}))
	require.NoError(t, r.Register(&stubScraper{name: "down", availableErr: errors.New("no network")}))

	active, excluded := r.Active(context.Background())
	require.Len(t, active, 1)
	require.Equal(t, "up", active[0].Name())
	require.Equal(t, []Exclusion{{Name: "down", Reason: "no network"}}, excluded)
}

func TestDispatch_IsolatesPanic(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0, nil)
	s := &stubScraper{name: "boom", panicOnCall: true}

	listings, execErr := r.Dispatch(context.Background(), s, "mouse")
	require.Nil(t, listings)
	require.NotNil(t, execErr)
	require.Equal(t, "boom", execErr.Plugin)
	require.Contains(t, execErr.Message, "scraper exploded")
}

func TestDispatch_Timeout(t *testing.T) {
	t.Parallel()
	r := NewRegistry(20*time.Millisecond, nil)
	s := &stubScraper{name: "slow", delay: time.Second}

	start := time.Now()
	listings, execErr := r.Dispatch(context.Background(), s, "mouse")
	require.Nil(t, listings)
	require.NotNil(t, execErr)
	require.Equal(t, "timeout", execErr.Message)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDispatch_TimeoutWhenPluginIgnoresContext(t *testing.T) {
	t.Parallel()
	r := NewRegistry(20*time.Millisecond, nil)
	s := &stubScraper{name: "stuck", delay: 2 * time.Second, ignoreCtx: true}

	start := time.Now()
	listings, execErr := r.Dispatch(context.Background(), s, "mouse")
	require.Nil(t, listings)
	require.NotNil(t, execErr)
	require.Equal(t, "stuck", execErr.Plugin)
	require.Equal(t, "timeout", execErr.Message)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDispatch_Success(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0, nil)
	want := []RawListing{{Title: "Mouse", URL: "https://x.test/1"}}
	s := &stubScraper{name: "ok", listings: want}

	listings, execErr := r.Dispatch(context.Background(), s, "mouse")
	require.Nil(t, execErr)
	require.Equal(t, want, listings)
}
