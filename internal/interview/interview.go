// Package interview starts a session server for one question document and
// supervises it until a terminal outcome.
package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/interview/internal/api"
	"github.com/kalambet/interview/internal/questions"
	"github.com/kalambet/interview/internal/registry"
	"github.com/kalambet/interview/internal/session"
	"github.com/kalambet/interview/internal/snapshot"
	"github.com/kalambet/interview/internal/storage"
)

// DefaultTimeout is the browser-side answering time when none is given.
const DefaultTimeout = 600 * time.Second

const (
	shutdownTimeout = 5 * time.Second
	readyTimeout    = 5 * time.Second
	registryTimeout = 10 * time.Second
)

var (
	// ErrNoQuestions is returned when Start is called without a document or
	// with an empty one.
	ErrNoQuestions = errors.New("no questions to ask")
	// ErrAlreadyCanceled is returned when the owner's context is done before
	// Start was called.
	ErrAlreadyCanceled = errors.New("interview canceled before it started")
)

// HistoryRecorder stores finished sessions. *storage.Store implements it.
type HistoryRecorder interface {
	RecordSession(storage.SessionRecord) error
}

// Options configures one interview.
type Options struct {
	Document *questions.Document
	// Timeout is enforced by the browser page, not by the server.
	Timeout time.Duration
	// Port is the loopback port to bind; zero picks a free one.
	Port int
	// Answers pre-fills the form when resuming.
	Answers  questions.Answers
	AutoSave bool

	SnapshotDir string
	RecoveryDir string
	UploadDir   string

	Registry *registry.Registry
	History  HistoryRecorder

	Cwd    string
	Branch string

	HeartbeatGrace    time.Duration
	HeartbeatInterval time.Duration

	Logger *slog.Logger
}

// QueueNotice describes another session that was already active when this
// one started, plus this session's own URL.
type QueueNotice struct {
	Title     string    `json:"title"`
	Cwd       string    `json:"cwd"`
	Branch    string    `json:"branch,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	URL       string    `json:"url"`
}

func (q *QueueNotice) String() string {
	where := q.Cwd
	if q.Branch != "" {
		where += " (" + q.Branch + ")"
	}
	return fmt.Sprintf("another interview %q is in progress in %s since %s; this one is waiting at %s",
		q.Title, where, q.StartedAt.Local().Format(time.Kitchen), q.URL)
}

// Interview is a running session server.
type Interview struct {
	sess   *session.Session
	srv    *http.Server
	addr   string
	url    string
	queue  *QueueNotice
	opts   Options
	logger *slog.Logger
	group  *errgroup.Group

	done    chan struct{}
	outcome session.Outcome
}

// Start validates opts, binds the listener, waits until it answers, registers
// the session and returns. The interview then runs until it reaches a terminal
// state or ctx is done, whichever comes first.
func Start(ctx context.Context, opts Options) (*Interview, error) {
	if opts.Document == nil || len(opts.Document.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlreadyCanceled, err)
	}
	if err := opts.Document.Validate(); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var persister session.Persister
	if opts.SnapshotDir != "" || opts.RecoveryDir != "" {
		persister = snapshot.Writer{SnapshotDir: opts.SnapshotDir, RecoveryDir: opts.RecoveryDir}
	}
	sess, err := session.New(session.Config{
		Document:       opts.Document,
		Answers:        opts.Answers,
		Cwd:            opts.Cwd,
		Branch:         opts.Branch,
		AutoSave:       opts.AutoSave,
		Persister:      persister,
		HeartbeatGrace: opts.HeartbeatGrace,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	logger = logger.With("session", sess.ID())

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("binding listener: %w", err)
	}
	addr := ln.Addr().String()

	it := &Interview{
		sess: sess,
		srv: &http.Server{
			Handler: api.NewSessionHandler(api.SessionDeps{
				Session:           sess,
				UploadDir:         opts.UploadDir,
				TimeoutSeconds:    int(opts.Timeout / time.Second),
				HeartbeatInterval: opts.HeartbeatInterval,
				Logger:            logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   addr,
		url:    "http://" + addr + "/?token=" + url.QueryEscape(sess.Token()),
		opts:   opts,
		logger: logger,
		group:  new(errgroup.Group),
		done:   make(chan struct{}),
	}

	it.group.Go(func() error {
		if err := it.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listener failed", "error", err)
			sess.Abort()
			return err
		}
		return nil
	})

	if err := it.waitReady(ctx); err != nil {
		sess.Abort()
		it.srv.Close()
		it.group.Wait()
		return nil, err
	}

	if opts.Registry != nil {
		it.queue = it.register(ctx)
	}
	sess.MarkListening()
	logger.Info("interview listening", "addr", addr, "questions", len(opts.Document.Questions))

	go it.supervise(ctx)
	return it, nil
}

// waitReady polls the health route until the listener answers.
func (it *Interview) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	client := &http.Client{Timeout: time.Second}
	target := "http://" + it.addr + "/health?token=" + url.QueryEscape(it.sess.Token())
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("health check returned %s", resp.Status)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("listener never became ready: %w", err)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// register adds this session to the registry and returns a notice when
// another session is already active. Registry failures only cost the
// queuing hint, so they are logged and ignored.
func (it *Interview) register(ctx context.Context) *QueueNotice {
	ctx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()

	reg := it.opts.Registry
	err := reg.Register(ctx, registry.Entry{
		ID:        it.sess.ID(),
		Title:     it.opts.Document.Title,
		Cwd:       it.opts.Cwd,
		Branch:    it.opts.Branch,
		StartedAt: it.sess.StartedAt(),
		Addr:      it.addr,
		PID:       os.Getpid(),
	})
	if err != nil {
		it.logger.Warn("registering session", "error", err)
	}

	others, err := reg.Others(ctx, it.sess.ID())
	if err != nil {
		it.logger.Warn("reading session registry", "error", err)
		return nil
	}
	if len(others) == 0 {
		return nil
	}
	first := others[0]
	it.logger.Info("another interview is active", "other", first.ID, "title", first.Title)
	return &QueueNotice{
		Title:     first.Title,
		Cwd:       first.Cwd,
		Branch:    first.Branch,
		StartedAt: first.StartedAt,
		URL:       it.url,
	}
}

// supervise waits for the session to end, aborting it if the owner's context
// is done first, then tears everything down.
func (it *Interview) supervise(ctx context.Context) {
	select {
	case <-it.sess.Done():
	case <-ctx.Done():
		it.logger.Info("owner canceled interview")
		it.sess.Abort()
	}
	out, _ := it.sess.Outcome()

	if it.opts.Registry != nil {
		rctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
		if err := it.opts.Registry.Deregister(rctx, it.sess.ID()); err != nil {
			it.logger.Warn("deregistering session", "error", err)
		}
		cancel()
	}

	if it.opts.History != nil {
		if err := it.opts.History.RecordSession(it.historyRecord(out)); err != nil {
			it.logger.Warn("recording session history", "error", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := it.srv.Shutdown(sctx); err != nil {
		it.logger.Warn("listener shutdown", "error", err)
		it.srv.Close()
	}
	cancel()
	if err := it.group.Wait(); err != nil {
		it.logger.Debug("listener exited", "error", err)
	}

	it.outcome = out
	close(it.done)
}

func (it *Interview) historyRecord(out session.Outcome) storage.SessionRecord {
	answers, err := json.Marshal(out.Answers)
	if err != nil {
		answers = []byte("{}")
	}
	return storage.SessionRecord{
		ID:           it.sess.ID(),
		Title:        it.opts.Document.Title,
		Status:       out.Status.String(),
		Reason:       string(out.Reason),
		Cwd:          it.opts.Cwd,
		Branch:       it.opts.Branch,
		StartedAt:    it.sess.StartedAt(),
		FinishedAt:   time.Now(),
		Answers:      string(answers),
		SnapshotPath: out.SnapshotPath,
		RecoveryPath: out.RecoveryPath,
	}
}

func (it *Interview) ID() string { return it.sess.ID() }

// URL is the form address, token included.
func (it *Interview) URL() string { return it.url }

// Addr is the bound loopback address.
func (it *Interview) Addr() string { return it.addr }

// Queue returns the notice computed at start, or nil when no other session
// was active.
func (it *Interview) Queue() *QueueNotice { return it.queue }

func (it *Interview) State() session.State { return it.sess.State() }

// Done is closed after the session ended and the listener shut down.
func (it *Interview) Done() <-chan struct{} { return it.done }

// Wait blocks until the interview is over and returns its outcome.
func (it *Interview) Wait() session.Outcome {
	<-it.done
	return it.outcome
}

// Cancel aborts the interview on behalf of its owner.
func (it *Interview) Cancel() {
	it.sess.Abort()
}
