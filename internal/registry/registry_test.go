package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysAlive(context.Context, string) bool { return true }

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "sessions.json")
	opts = append([]Option{
		WithProber(ProberFunc(alwaysAlive)),
		WithProcessCheck(func(int) bool { return true }),
	}, opts...)
	return New(path, opts...)
}

func entry(id string, started time.Time) Entry {
	return Entry{
		ID:        id,
		Title:     "Session " + id,
		Cwd:       "/work/" + id,
		StartedAt: started,
		Addr:      "127.0.0.1:1",
		PID:       os.Getpid(),
	}
}

func TestRegisterAndOthers(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, r.Register(ctx, entry("b", base.Add(time.Minute))))
	require.NoError(t, r.Register(ctx, entry("a", base)))
	require.NoError(t, r.Register(ctx, entry("self", base.Add(2*time.Minute))))

	all, err := r.Active(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "self"}, ids(all))

	others, err := r.Others(ctx, "self")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(others))
	assert.Equal(t, "Session a", others[0].Title)
	assert.True(t, others[0].StartedAt.Equal(base))
}

func TestDeregister(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	require.NoError(t, r.Register(ctx, entry("a", time.Now())))
	require.NoError(t, r.Register(ctx, entry("b", time.Now())))
	require.NoError(t, r.Deregister(ctx, "a"))
	require.NoError(t, r.Deregister(ctx, "missing"))

	all, err := r.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(all))
}

func TestMissingEmptyOrCorruptLedger(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	all, err := r.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, os.MkdirAll(filepath.Dir(r.Path()), 0o700))
	for _, content := range []string{"", "{not json", `["a list"]`} {
		require.NoError(t, os.WriteFile(r.Path(), []byte(content), 0o600))
		all, err := r.Active(ctx)
		require.NoError(t, err, "content %q", content)
		assert.Empty(t, all)
	}

	require.NoError(t, r.Register(ctx, entry("fresh", time.Now())))
	all, err = r.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids(all))
}

func TestReconcileEvictsDeadProcesses(t *testing.T) {
	ctx := context.Background()
	dead := map[int]bool{4242: true}
	r := newTestRegistry(t, WithProcessCheck(func(pid int) bool { return !dead[pid] }))

	crashed := entry("crashed", time.Now())
	crashed.PID = 4242
	require.NoError(t, r.Register(ctx, crashed))
	require.NoError(t, r.Register(ctx, entry("live", time.Now())))

	all, err := r.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, ids(all))

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "crashed")
}

func TestReconcileEvictsSilentListeners(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, WithProber(ProberFunc(func(_ context.Context, addr string) bool {
		return addr != "127.0.0.1:9"
	})))

	gone := entry("gone", time.Now())
	gone.Addr = "127.0.0.1:9"
	require.NoError(t, r.Register(ctx, gone))
	require.NoError(t, r.Register(ctx, entry("here", time.Now())))

	others, err := r.Others(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"here"}, ids(others))
}

func TestReconcileKeepsEntriesWhenCallerGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "sessions.json")
	live := entry("live", time.Now())
	live.Addr = strings.TrimPrefix(srv.URL, "http://")
	require.NoError(t, New(path).Register(context.Background(), live))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(path).Active(canceled)
	require.NoError(t, err)

	all, err := New(path).Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, ids(all))
}

func TestLockContention(t *testing.T) {
	r := newTestRegistry(t, WithLockRetry(3, time.Millisecond))
	require.NoError(t, os.MkdirAll(filepath.Dir(r.Path()), 0o700))

	held, err := acquireFileLock(r.Path() + ".lock")
	require.NoError(t, err)

	err = r.Register(context.Background(), entry("blocked", time.Now()))
	assert.ErrorIs(t, err, ErrLockContention)

	require.NoError(t, releaseFileLock(held))
	require.NoError(t, r.Register(context.Background(), entry("blocked", time.Now())))
}

func TestConcurrentRegistrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.json")

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate handles contend on the file lock, not the in-process mutex.
			r := New(path,
				WithProber(ProberFunc(alwaysAlive)),
				WithProcessCheck(func(int) bool { return true }),
				WithLockRetry(500, time.Millisecond),
			)
			errs[i] = r.Register(ctx, entry(fmt.Sprintf("s%02d", i), time.Now()))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	all, err := New(path, WithProber(ProberFunc(alwaysAlive)), WithProcessCheck(func(int) bool { return true })).Active(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(errs))
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	addr := strings.TrimPrefix(srv.URL, "http://")

	assert.True(t, HTTPProber{}.Alive(context.Background(), addr))
	srv.Close()
	assert.False(t, HTTPProber{}.Alive(context.Background(), addr))
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(0))
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
