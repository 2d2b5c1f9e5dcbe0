// Package session implements the lifecycle of one interview: created,
// listening, active, then exactly one of four terminal states. All mutations
// of a session serialize through its mutex; disk writes happen outside it.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/interview/internal/questions"
	"github.com/kalambet/interview/internal/snapshot"
	"github.com/kalambet/interview/internal/watchdog"
)

var (
	// ErrFinished is returned by non-terminal operations on a finished session.
	ErrFinished = errors.New("session already finished")
	// ErrNoPersister is returned by SaveSnapshot when nothing can write documents.
	ErrNoPersister = errors.New("no snapshot location configured")
)

// Persister writes snapshot and recovery documents. snapshot.Writer is the
// production implementation.
type Persister interface {
	WriteSnapshot(rec snapshot.Record) (string, error)
	WriteRecovery(rec snapshot.Record) (string, error)
}

// Config describes a new session.
type Config struct {
	Document *questions.Document
	// Answers pre-fills the form, for resuming from a snapshot.
	Answers  questions.Answers
	Cwd      string
	Branch   string
	AutoSave bool

	Persister Persister
	// HeartbeatGrace is the abandonment window once the session is active.
	// Zero means watchdog.DefaultGrace.
	HeartbeatGrace time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Session is one interview. It is safe for concurrent use.
type Session struct {
	id        string
	token     string
	doc       *questions.Document
	cwd       string
	branch    string
	autoSave  bool
	persist   Persister
	logger    *slog.Logger
	now       func() time.Time
	startedAt time.Time
	watchdog  *watchdog.Watchdog
	done      chan struct{}

	mu       sync.Mutex
	state    State
	answers  questions.Answers
	lastBeat time.Time
	outcome  Outcome
}

// New mints an id and token for a session in the Created state.
func New(cfg Config) (*Session, error) {
	if cfg.Document == nil {
		return nil, errors.New("session requires a question document")
	}
	if err := cfg.Document.Validate(); err != nil {
		return nil, err
	}
	answers := cfg.Answers.Clone()
	if answers == nil {
		answers = questions.Answers{}
	}
	if err := cfg.Document.CheckAnswers(answers, false); err != nil {
		return nil, fmt.Errorf("initial answers: %w", err)
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       uuid.New().String(),
		token:    token,
		doc:      cfg.Document,
		cwd:      cfg.Cwd,
		branch:   cfg.Branch,
		autoSave: cfg.AutoSave,
		persist:  cfg.Persister,
		logger:   cfg.Logger,
		now:      cfg.Now,
		done:     make(chan struct{}),
		answers:  answers,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.startedAt = s.now()
	s.logger = s.logger.With("session", s.id)
	s.watchdog = watchdog.New(cfg.HeartbeatGrace, func() {
		s.logger.Warn("no heartbeat within grace window, abandoning session")
		s.Cancel(ReasonAbandoned, nil)
	})
	return s, nil
}

func (s *Session) ID() string                    { return s.id }
func (s *Session) Token() string                 { return s.token }
func (s *Session) Document() *questions.Document { return s.doc }
func (s *Session) StartedAt() time.Time          { return s.startedAt }
func (s *Session) Cwd() string                   { return s.cwd }
func (s *Session) Branch() string                { return s.branch }

// Done is closed once a terminal transition and its side effects are finished.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Answers returns a copy of the answers recorded so far.
func (s *Session) Answers() questions.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Clone()
}

func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBeat
}

// Outcome returns the recorded outcome once the session has finished.
func (s *Session) Outcome() (Outcome, bool) {
	select {
	case <-s.done:
	default:
		return Outcome{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, true
}

// MarkListening records that the listener is bound and registered.
func (s *Session) MarkListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Created {
		s.state = Listening
		s.logger.Debug("session listening")
	}
}

// Heartbeat records a heartbeat from the browser and re-arms the watchdog.
// It reports whether this call moved the session to Active.
func (s *Session) Heartbeat() (activated bool) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.lastBeat = s.now()
	activated = s.activateLocked()
	active := s.state == Active
	s.mu.Unlock()

	if active {
		s.watchdog.Beat()
	}
	return activated
}

// activateLocked moves a listening session to Active.
func (s *Session) activateLocked() bool {
	if s.state != Listening {
		return false
	}
	s.state = Active
	s.logger.Info("browser connected")
	return true
}

// RecordProgress replaces the recorded answers with a, the full set of
// answers currently entered in the form. Shapes are checked but required
// answers may still be missing.
func (s *Session) RecordProgress(a questions.Answers) error {
	if err := s.doc.CheckAnswers(a, false); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrFinished
	}
	s.answers = nonNil(a.Clone())
	activated := s.activateLocked()
	s.mu.Unlock()

	if activated {
		s.watchdog.Beat()
	}
	return nil
}

// Submit completes the session with a. When a fails validation the session
// stays open and the returned error is a *questions.ValidationError. A
// session that has already finished returns its recorded outcome.
func (s *Session) Submit(a questions.Answers) (Outcome, error) {
	if out, ok := s.Outcome(); ok {
		return out, nil
	}
	if err := s.doc.CheckAnswers(a, true); err != nil {
		s.mu.Lock()
		activated := s.activateLocked()
		s.mu.Unlock()
		if activated {
			s.watchdog.Beat()
		}
		return Outcome{}, err
	}
	return s.finish(Completed, "", nonNil(a)), nil
}

// Cancel ends the session on behalf of the browser or the watchdog. Reason
// timeout yields TimedOut; anything else yields Cancelled. A non-nil partial
// replaces the recorded answers when its shapes are valid. A session that
// never started listening is aborted instead.
func (s *Session) Cancel(reason Reason, partial questions.Answers) Outcome {
	if reason == "" {
		reason = ReasonUser
	}
	status := Cancelled
	if reason == ReasonTimeout {
		status = TimedOut
	}
	if partial != nil {
		if err := s.doc.CheckAnswers(partial, false); err != nil {
			s.logger.Warn("ignoring malformed partial answers", "error", err)
			partial = nil
		}
	}
	return s.finish(status, reason, partial)
}

// Abort ends the session on behalf of its owning process.
func (s *Session) Abort() Outcome {
	return s.finish(Aborted, ReasonAborted, nil)
}

// finish applies a terminal transition. Only the first caller wins; everyone
// else waits for its side effects and gets the same outcome. A session still
// in Created was never reachable, so it writes no documents.
func (s *Session) finish(status State, reason Reason, answers questions.Answers) Outcome {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		<-s.done
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outcome
	}
	unreached := s.state == Created
	if unreached && (status == Cancelled || status == TimedOut) {
		status, reason = Aborted, ReasonAborted
	}
	if answers != nil {
		s.answers = answers.Clone()
	}
	s.state = status
	out := Outcome{
		Status:    status,
		Reason:    reason,
		Answers:   s.answers.Clone(),
		Responses: s.doc.Responses(s.answers),
	}
	s.outcome = out
	s.mu.Unlock()

	s.watchdog.Stop()
	if !unreached {
		out = s.persistOutcome(out)
	}

	s.mu.Lock()
	s.outcome = out
	s.mu.Unlock()
	close(s.done)

	s.logger.Info("session finished", "status", status, "reason", reason, "answers", len(out.Answers))
	return out
}

// persistOutcome writes the document a terminal state calls for. Failures are
// logged and never change the outcome's status.
func (s *Session) persistOutcome(out Outcome) Outcome {
	if s.persist == nil {
		return out
	}
	switch {
	case out.Status == Completed && s.autoSave:
		path, err := s.persist.WriteSnapshot(s.record(out.Answers, true))
		if err != nil {
			s.logger.Error("failed to write snapshot", "error", err)
			return out
		}
		out.SnapshotPath = path
	case out.Status != Completed && hasContent(out.Answers):
		path, err := s.persist.WriteRecovery(s.record(out.Answers, false))
		if err != nil {
			s.logger.Error("failed to write recovery file", "error", err)
			return out
		}
		out.RecoveryPath = path
		s.logger.Info("recovery file written", "path", path)
	}
	return out
}

// SaveSnapshot writes a snapshot of the session without ending it. A non-nil
// partial first replaces the recorded answers.
func (s *Session) SaveSnapshot(partial questions.Answers) (string, error) {
	if s.persist == nil {
		return "", ErrNoPersister
	}
	if partial != nil {
		if err := s.RecordProgress(partial); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return "", ErrFinished
	}
	answers := s.answers.Clone()
	s.mu.Unlock()

	path, err := s.persist.WriteSnapshot(s.record(answers, false))
	if err != nil {
		return "", fmt.Errorf("saving snapshot: %w", err)
	}
	s.logger.Info("snapshot saved", "path", path)
	return path, nil
}

func (s *Session) record(answers questions.Answers, submitted bool) snapshot.Record {
	return snapshot.Record{
		Document:     s.doc,
		Answers:      answers,
		SavedAt:      s.now().UTC(),
		WasSubmitted: submitted,
		Cwd:          s.cwd,
		Branch:       s.branch,
		SessionID:    s.id,
	}
}

func hasContent(a questions.Answers) bool {
	for _, v := range a {
		if !v.IsEmpty() {
			return true
		}
	}
	return false
}

func nonNil(a questions.Answers) questions.Answers {
	if a == nil {
		return questions.Answers{}
	}
	return a
}
