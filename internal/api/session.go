package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/interview/internal/questions"
	"github.com/kalambet/interview/internal/session"
	"github.com/kalambet/interview/internal/web"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 32 << 20 // 32MB

	DefaultHeartbeatInterval = 5 * time.Second
)

// SessionDeps holds what the session routes need.
type SessionDeps struct {
	Session *session.Session
	// UploadDir receives files posted to /upload, one subdirectory per session.
	UploadDir string
	// TimeoutSeconds is handed to the browser, which enforces it.
	TimeoutSeconds    int
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

// NewSessionHandler returns the routes for one interview session. Every
// route, health included, requires the session token.
func NewSessionHandler(deps SessionDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = DefaultHeartbeatInterval
	}

	r := chi.NewRouter()
	r.Use(TokenAuth(deps.Session.Token()))

	r.Get("/", handleForm(deps))
	r.Get("/health", handleHealth)
	r.Post("/heartbeat", handleHeartbeat(deps))
	r.Post("/progress", handleProgress(deps))
	r.Post("/submit", handleSubmit(deps))
	r.Post("/cancel", handleCancel(deps))
	r.Post("/upload", handleUpload(deps))
	r.Post("/snapshot", handleSnapshot(deps))

	return r
}

// StatusResponse is the body of every successful mutating route.
type StatusResponse struct {
	Status   string           `json:"status"`
	State    session.State    `json:"state"`
	Terminal bool             `json:"terminal"`
	Path     string           `json:"path,omitempty"`
	Outcome  *session.Outcome `json:"outcome,omitempty"`
}

type answersRequest struct {
	Answers questions.Answers `json:"answers"`
}

type cancelRequest struct {
	Reason  session.Reason    `json:"reason"`
	Answers questions.Answers `json:"answers"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleForm(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Session
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		err := web.Render(w, web.Page{
			Title: s.Document().Title,
			Config: web.Config{
				Mode:            web.ModeLive,
				Token:           s.Token(),
				TimeoutSeconds:  deps.TimeoutSeconds,
				HeartbeatMillis: int(deps.HeartbeatInterval / time.Millisecond),
			},
			Data: map[string]any{
				"questions": s.Document(),
				"answers":   s.Answers(),
			},
		})
		if err != nil {
			deps.Logger.Error("rendering form", "error", err)
		}
	}
}

// writeFinished answers with the recorded outcome once the session is over.
func writeFinished(w http.ResponseWriter, s *session.Session) bool {
	out, ok := s.Outcome()
	if !ok {
		return false
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "finished", State: out.Status, Terminal: true, Outcome: &out})
	return true
}

func handleHeartbeat(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Session
		if writeFinished(w, s) {
			return
		}
		if s.Heartbeat() {
			deps.Logger.Debug("session activated by heartbeat", "session", s.ID())
		}
		writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", State: s.State()})
	}
}

func handleProgress(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Session
		if writeFinished(w, s) {
			return
		}
		var req answersRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.RecordProgress(req.Answers); err != nil {
			if errors.Is(err, session.ErrFinished) && writeFinished(w, s) {
				return
			}
			answersError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", State: s.State()})
	}
}

func handleSubmit(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Session
		if writeFinished(w, s) {
			return
		}
		var req answersRequest
		if !decodeBody(w, r, &req) {
			return
		}
		out, err := s.Submit(req.Answers)
		if err != nil {
			answersError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", State: out.Status, Terminal: true, Outcome: &out})
	}
}

func handleCancel(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Session
		if writeFinished(w, s) {
			return
		}
		var req cancelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		switch req.Reason {
		case "", session.ReasonUser, session.ReasonTimeout:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reason must be %q or %q", session.ReasonUser, session.ReasonTimeout)
			return
		}
		out := s.Cancel(req.Reason, req.Answers)
		writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", State: out.Status, Terminal: true, Outcome: &out})
	}
}

func handleSnapshot(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Session
		if writeFinished(w, s) {
			return
		}
		var req answersRequest
		if !decodeBody(w, r, &req) {
			return
		}
		path, err := s.SaveSnapshot(req.Answers)
		switch {
		case errors.Is(err, session.ErrFinished):
			writeFinished(w, s)
		case errors.Is(err, session.ErrNoPersister):
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		case err != nil:
			var verr *questions.ValidationError
			if errors.As(err, &verr) {
				answersError(w, err)
				return
			}
			deps.Logger.Error("manual snapshot failed", "session", s.ID(), "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "saving snapshot: %v", err)
		default:
			writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", State: s.State(), Path: path})
		}
	}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func handleUpload(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Session
		if writeFinished(w, s) {
			return
		}
		if deps.UploadDir == "" {
			httpError(w, http.StatusInternalServerError, "api_error", "uploads are not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid upload: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		id := r.FormValue("question")
		if id != "" && !s.Document().FileAnswer(id) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question %q does not accept files", id)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		path, err := storeUpload(filepath.Join(deps.UploadDir, s.ID()), header.Filename, file)
		if err != nil {
			deps.Logger.Error("storing upload", "session", s.ID(), "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "storing upload: %v", err)
			return
		}
		deps.Logger.Debug("upload stored", "session", s.ID(), "question", id, "path", path)
		writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", State: s.State(), Path: path})
	}
}

// storeUpload copies src into dir under a fresh name and returns the
// absolute path.
func storeUpload(dir, name string, src io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := unsafeNameChars.ReplaceAllString(filepath.Base(name), "_")
	if base == "" || base == "." || base == ".." {
		base = "upload"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s", uuid.New().String()[:8], base))

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return filepath.Abs(path)
}
