// Package registry keeps the per-user ledger of reachable interview sessions.
// Every change is a read-modify-write cycle under an exclusive file lock, and
// every cycle evicts entries whose process died or whose listener stopped
// answering, so a crashed process never blocks later sessions.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrLockContention is returned when the ledger lock stays held by another
// process for every retry.
var ErrLockContention = errors.New("session registry is locked by another process")

// errWouldBlock is returned by a single non-blocking lock attempt.
var errWouldBlock = errors.New("lock held by another process")

const (
	defaultLockAttempts = 50
	defaultLockDelay    = 20 * time.Millisecond
	probeTimeout        = time.Second
)

// Entry is the part of a session visible to other processes.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Cwd       string    `json:"cwd"`
	Branch    string    `json:"branch,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Addr      string    `json:"addr"`
	PID       int       `json:"pid"`
}

// Prober reports whether the listener at addr still answers.
type Prober interface {
	Alive(ctx context.Context, addr string) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, addr string) bool

func (f ProberFunc) Alive(ctx context.Context, addr string) bool { return f(ctx, addr) }

// HTTPProber probes GET /health on a session listener. Any HTTP response,
// including access denied, means something is listening.
type HTTPProber struct {
	Client *http.Client
}

func (p HTTPProber) Alive(ctx context.Context, addr string) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Option configures a Registry.
type Option func(*Registry)

// WithProber replaces the HTTP liveness probe.
func WithProber(p Prober) Option {
	return func(r *Registry) { r.prober = p }
}

// WithProcessCheck replaces the PID liveness check.
func WithProcessCheck(fn func(pid int) bool) Option {
	return func(r *Registry) { r.processAlive = fn }
}

// WithLockRetry bounds how long a cycle waits for the ledger lock.
func WithLockRetry(attempts int, delay time.Duration) Option {
	return func(r *Registry) {
		if attempts > 0 {
			r.lockAttempts = attempts
		}
		if delay > 0 {
			r.lockDelay = delay
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry is a handle on one ledger file. Several Registry values, in this
// or other processes, may share the same path.
type Registry struct {
	path         string
	prober       Prober
	processAlive func(pid int) bool
	lockAttempts int
	lockDelay    time.Duration
	logger       *slog.Logger

	// mu serializes cycles within this process; the file lock covers the rest.
	mu sync.Mutex
}

// New returns a registry backed by the ledger at path.
func New(path string, opts ...Option) *Registry {
	r := &Registry{
		path:         path,
		prober:       HTTPProber{},
		processAlive: processAlive,
		lockAttempts: defaultLockAttempts,
		lockDelay:    defaultLockDelay,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the ledger file path.
func (r *Registry) Path() string { return r.path }

// Register adds e to the ledger.
func (r *Registry) Register(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("registry entry has no id")
	}
	if e.PID == 0 {
		e.PID = os.Getpid()
	}
	_, err := r.cycle(ctx, func(l ledger) bool {
		l[e.ID] = e
		return true
	})
	return err
}

// Deregister removes the entry with the given id. Callers pass only ids they
// registered themselves.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	_, err := r.cycle(ctx, func(l ledger) bool {
		if _, ok := l[id]; !ok {
			return false
		}
		delete(l, id)
		return true
	})
	return err
}

// Active returns every live session, oldest first.
func (r *Registry) Active(ctx context.Context) ([]Entry, error) {
	l, err := r.cycle(ctx, nil)
	if err != nil {
		return nil, err
	}
	return l.sorted(), nil
}

// Others returns every live session except selfID, oldest first.
func (r *Registry) Others(ctx context.Context, selfID string) ([]Entry, error) {
	all, err := r.Active(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(e Entry) bool { return e.ID == selfID }), nil
}

type ledger map[string]Entry

func (l ledger) sorted() []Entry {
	out := make([]Entry, 0, len(l))
	for _, e := range l {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// cycle runs one locked read, reconcile, mutate and write. mutate may be nil
// and reports whether it changed the ledger.
func (r *Registry) cycle(ctx context.Context, mutate func(ledger) bool) (ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	lock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := releaseFileLock(lock); err != nil {
			r.logger.Warn("releasing registry lock", "error", err)
		}
	}()

	l := r.read()
	changed := r.reconcile(ctx, l)
	if mutate != nil && mutate(l) {
		changed = true
	}
	if changed {
		if err := writeAtomic(r.path, l); err != nil {
			return nil, fmt.Errorf("writing registry: %w", err)
		}
	}
	return l, nil
}

func (r *Registry) lock(ctx context.Context) (*os.File, error) {
	lockPath := r.path + ".lock"
	for attempt := 0; attempt < r.lockAttempts; attempt++ {
		f, err := acquireFileLock(lockPath)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, errWouldBlock) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.lockDelay):
		}
	}
	return nil, ErrLockContention
}

// read loads the ledger. A missing, empty or unreadable ledger is empty.
func (r *Registry) read() ledger {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("reading registry, treating as empty", "path", r.path, "error", err)
		}
		return ledger{}
	}
	l := ledger{}
	if len(data) == 0 {
		return l
	}
	if err := json.Unmarshal(data, &l); err != nil {
		r.logger.Warn("registry is corrupt, treating as empty", "path", r.path, "error", err)
		return ledger{}
	}
	for id, e := range l {
		if id == "" || e.ID != id {
			delete(l, id)
		}
	}
	return l
}

// reconcile drops entries whose process is gone or whose listener no longer
// answers. Probes run in parallel. A failed probe counts only while ctx is
// live: once the caller gives up, every probe fails for that reason alone.
func (r *Registry) reconcile(ctx context.Context, l ledger) bool {
	var (
		mu    sync.Mutex
		stale []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for id, e := range l {
		g.Go(func() error {
			if r.processAlive != nil && e.PID > 0 && !r.processAlive(e.PID) {
				mu.Lock()
				stale = append(stale, id)
				mu.Unlock()
				return nil
			}
			if r.prober != nil && !r.prober.Alive(gctx, e.Addr) && gctx.Err() == nil {
				mu.Lock()
				stale = append(stale, id)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	for _, id := range stale {
		r.logger.Info("evicting stale session", "session", id, "addr", l[id].Addr)
		delete(l, id)
	}
	return len(stale) > 0
}

// writeAtomic replaces the ledger with a fully written temp file so readers
// never observe a partial write.
func writeAtomic(path string, l ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
