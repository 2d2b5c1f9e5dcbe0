package interview

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/interview/internal/questions"
	"github.com/kalambet/interview/internal/registry"
	"github.com/kalambet/interview/internal/session"
	"github.com/kalambet/interview/internal/snapshot"
	"github.com/kalambet/interview/internal/storage"
)

func testDocument(t *testing.T, title string) *questions.Document {
	t.Helper()
	doc, err := questions.Parse([]byte(`{
		"title": "`+title+`",
		"questions": [
			{"id": "q1", "type": "single", "question": "Pick", "options": ["A", "B"]},
			{"id": "q2", "type": "text", "question": "Why?", "required": false}
		]
	}`), "doc.json")
	require.NoError(t, err)
	return doc
}

func post(t *testing.T, it *Interview, path, body string) *http.Response {
	t.Helper()
	u, err := url.Parse(it.URL())
	require.NoError(t, err)
	u.Path = path
	resp, err := http.Post(u.String(), "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitDone(t *testing.T, it *Interview) session.Outcome {
	t.Helper()
	select {
	case <-it.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("interview did not finish")
	}
	return it.Wait()
}

func TestStart_CallerContractErrors(t *testing.T) {
	_, err := Start(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNoQuestions)

	_, err = Start(context.Background(), Options{Document: &questions.Document{}})
	assert.ErrorIs(t, err, ErrNoQuestions)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Start(ctx, Options{Document: testDocument(t, "x")})
	assert.ErrorIs(t, err, ErrAlreadyCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStart_BindFailure(t *testing.T) {
	first, err := Start(context.Background(), Options{Document: testDocument(t, "first")})
	require.NoError(t, err)
	defer first.Cancel()

	_, portStr, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	_, err = Start(context.Background(), Options{Document: testDocument(t, "second"), Port: port})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binding listener")
}

func TestSubmitOverHTTP(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	it, err := Start(context.Background(), Options{
		Document: testDocument(t, "Submit me"),
		History:  store,
		Cwd:      "/work",
	})
	require.NoError(t, err)
	assert.Equal(t, session.Listening, it.State())
	assert.True(t, strings.HasPrefix(it.URL(), "http://127.0.0.1:"))
	assert.Nil(t, it.Queue())

	resp := post(t, it, "/submit", `{"answers":{"q1":"A"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := waitDone(t, it)
	assert.Equal(t, session.Completed, out.Status)
	assert.Equal(t, []questions.Response{{ID: "q1", Value: questions.Text("A")}}, out.Responses)

	_, err = http.Get("http://" + it.Addr() + "/health")
	assert.Error(t, err, "listener should be closed")

	rec, err := store.GetSession(it.ID())
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "Submit me", rec.Title)
	assert.JSONEq(t, `{"q1":"A"}`, rec.Answers)
}

func TestNeverConnectedStaysListening(t *testing.T) {
	it, err := Start(context.Background(), Options{
		Document: testDocument(t, "Slow"),
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, session.Listening, it.State())
	select {
	case <-it.Done():
		t.Fatal("interview finished without a browser")
	default:
	}

	it.Cancel()
	out := waitDone(t, it)
	assert.Equal(t, session.Aborted, out.Status)
	assert.Equal(t, session.ReasonAborted, out.Reason)
}

func TestOwnerContextAborts(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	it, err := Start(ctx, Options{Document: testDocument(t, "Owner"), RecoveryDir: dir})
	require.NoError(t, err)

	resp := post(t, it, "/progress", `{"answers":{"q2":"draft"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	out := waitDone(t, it)
	assert.Equal(t, session.Aborted, out.Status)
	assert.Equal(t, questions.Text("draft"), out.Answers["q2"])
	require.NotEmpty(t, out.RecoveryPath)
	assert.Equal(t, dir, filepath.Dir(out.RecoveryPath))
}

func TestAbandonedSessionWritesRecovery(t *testing.T) {
	dir := t.TempDir()
	it, err := Start(context.Background(), Options{
		Document:       testDocument(t, "Abandoned"),
		RecoveryDir:    dir,
		HeartbeatGrace: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	resp := post(t, it, "/heartbeat", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, it, "/progress", `{"answers":{"q1":"B","q2":"left open"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := waitDone(t, it)
	assert.Equal(t, session.Cancelled, out.Status)
	assert.Equal(t, session.ReasonAbandoned, out.Reason)

	rec, err := snapshot.Load(out.RecoveryPath)
	require.NoError(t, err)
	assert.False(t, rec.WasSubmitted)
	assert.Equal(t, questions.Answers{"q1": questions.Text("B"), "q2": questions.Text("left open")}, rec.Answers)
	assert.Equal(t, it.ID(), rec.SessionID)
}

func TestSecondSessionIsQueued(t *testing.T) {
	reg := registry.New(filepath.Join(t.TempDir(), "sessions.json"))

	first, err := Start(context.Background(), Options{
		Document: testDocument(t, "First review"),
		Registry: reg,
		Cwd:      "/work/one",
		Branch:   "feature",
	})
	require.NoError(t, err)
	assert.Nil(t, first.Queue())

	second, err := Start(context.Background(), Options{
		Document: testDocument(t, "Second review"),
		Registry: reg,
		Cwd:      "/work/two",
	})
	require.NoError(t, err)

	notice := second.Queue()
	require.NotNil(t, notice)
	assert.Equal(t, "First review", notice.Title)
	assert.Equal(t, "/work/one", notice.Cwd)
	assert.Equal(t, "feature", notice.Branch)
	assert.False(t, notice.StartedAt.IsZero())
	assert.Equal(t, second.URL(), notice.URL)
	assert.Contains(t, notice.String(), "First review")

	// The first session is untouched and still reachable.
	assert.Equal(t, session.Listening, first.State())
	resp := post(t, first, "/heartbeat", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	second.Cancel()
	waitDone(t, second)
	first.Cancel()
	waitDone(t, first)

	active, err := reg.Active(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestBrowserCancel(t *testing.T) {
	it, err := Start(context.Background(), Options{Document: testDocument(t, "Retry")})
	require.NoError(t, err)

	first := post(t, it, "/cancel", `{"reason":"user"}`)
	require.Equal(t, http.StatusOK, first.StatusCode)

	out := waitDone(t, it)
	assert.Equal(t, session.Cancelled, out.Status)
	assert.Equal(t, session.ReasonUser, out.Reason)
}
