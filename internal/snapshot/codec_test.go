package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/interview/internal/questions"
)

func testDocument(t *testing.T) *questions.Document {
	t.Helper()
	doc, err := questions.Parse([]byte(`{
		"title": "Review",
		"questions": [
			{"id": "q1", "type": "single", "question": "Pick", "options": ["A", "B"]},
			{"id": "q2", "type": "multi", "question": "Tags", "options": ["x", "y", "z"]},
			{"id": "q3", "type": "text", "question": "Why?"},
			{"id": "shots", "type": "image", "question": "Screens", "required": false}
		]
	}`), "doc.json")
	require.NoError(t, err)
	return doc
}

func TestRoundTrip(t *testing.T) {
	doc := testDocument(t)
	dir := t.TempDir()
	answers := questions.Answers{
		"q1":    questions.Text("A"),
		"q2":    questions.List("x", "z"),
		"q3":    questions.Text("because </script> is tricky"),
		"shots": questions.List("uploads/one.png", "/abs/two.png", "https://example.com/three.png"),
	}
	saved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	data, err := Encode(Record{
		Document:     doc,
		Answers:      answers,
		SavedAt:      saved,
		WasSubmitted: true,
		Cwd:          "/work",
		Branch:       "main",
		SessionID:    "abc",
	})
	require.NoError(t, err)

	rec, err := Decode(data, dir)
	require.NoError(t, err)

	assert.Equal(t, doc, rec.Document)
	assert.Equal(t, FormatVersion, rec.Version)
	assert.True(t, rec.SavedAt.Equal(saved))
	assert.True(t, rec.WasSubmitted)
	assert.Equal(t, "/work", rec.Cwd)
	assert.Equal(t, "main", rec.Branch)
	assert.Equal(t, "abc", rec.SessionID)

	assert.Equal(t, answers["q1"], rec.Answers["q1"])
	assert.Equal(t, answers["q2"], rec.Answers["q2"])
	assert.Equal(t, answers["q3"], rec.Answers["q3"])
	assert.Equal(t, questions.List(
		filepath.Join(dir, "uploads/one.png"),
		"/abs/two.png",
		"https://example.com/three.png",
	), rec.Answers["shots"])
}

func TestDecode_NotASnapshot(t *testing.T) {
	_, err := Decode([]byte("<html><body><script>var x = 1;</script></body></html>"), "")
	assert.ErrorIs(t, err, ErrNotSnapshot)
	assert.NotErrorIs(t, err, ErrCorruptSnapshot)

	_, err = Decode([]byte("plain text"), "")
	assert.ErrorIs(t, err, ErrNotSnapshot)
}

func TestDecode_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad json", `<script type="application/json" id="interview-snapshot">{"questions": </script>`},
		{"empty block", `<script type="application/json" id="interview-snapshot"></script>`},
		{"no questions", `<script type="application/json" id="interview-snapshot">{"answers": {}}</script>`},
		{"invalid questions", `<script type="application/json" id="interview-snapshot">{"questions": {"questions": [{"id": "a", "type": "nope", "question": "x"}]}}</script>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc), "")
			assert.ErrorIs(t, err, ErrCorruptSnapshot)
			assert.NotErrorIs(t, err, ErrNotSnapshot)
		})
	}
}

func TestLoad_ResolvesAgainstDocumentDir(t *testing.T) {
	doc := testDocument(t)
	w := Writer{SnapshotDir: t.TempDir()}

	path, err := w.WriteSnapshot(Record{
		Document:  doc,
		Answers:   questions.Answers{"shots": questions.List("img/a.png")},
		SessionID: "0f8fad5b-d9cb-469f-a165-70867728950e",
	})
	require.NoError(t, err)

	rec, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, KindSnapshot, rec.Kind)
	assert.Equal(t, questions.List(filepath.Join(filepath.Dir(path), "img/a.png")), rec.Answers["shots"])
}

func TestWriter_UniquePaths(t *testing.T) {
	doc := testDocument(t)
	dir := t.TempDir()
	w := Writer{SnapshotDir: dir, RecoveryDir: dir}
	rec := Record{
		Document:  doc,
		SavedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SessionID: "0f8fad5b-d9cb-469f-a165-70867728950e",
	}

	seen := map[string]bool{}
	for range 3 {
		p, err := w.WriteRecovery(rec)
		require.NoError(t, err)
		assert.False(t, seen[p], "path reused: %s", p)
		seen[p] = true
		assert.True(t, strings.HasPrefix(filepath.Base(p), "recovery-20260102T030405Z-0f8fad5b"))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestWriter_RequiresDirectory(t *testing.T) {
	_, err := Writer{}.WriteRecovery(Record{Document: testDocument(t)})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCorruptSnapshot))
}
