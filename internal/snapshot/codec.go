// Package snapshot encodes interview state into a standalone HTML document and
// decodes it back. The inlined data block is the on-disk compatibility
// surface: documents written by older versions must stay loadable.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/net/html"

	"github.com/kalambet/interview/internal/questions"
	"github.com/kalambet/interview/internal/web"
)

// FormatVersion is written into every record.
const FormatVersion = 1

// Record kinds.
const (
	KindSnapshot = "snapshot"
	KindRecovery = "recovery"
)

var (
	// ErrNotSnapshot means the document has no interview data block at all.
	ErrNotSnapshot = errors.New("not an interview snapshot")
	// ErrCorruptSnapshot means the data block exists but cannot be used.
	ErrCorruptSnapshot = errors.New("corrupt interview snapshot")
)

// Record is the data inlined into a snapshot or recovery document.
type Record struct {
	Version      int                 `json:"version"`
	Kind         string              `json:"kind,omitempty"`
	Document     *questions.Document `json:"questions"`
	Answers      questions.Answers   `json:"answers"`
	SavedAt      time.Time           `json:"savedAt"`
	WasSubmitted bool                `json:"wasSubmitted"`
	Cwd          string              `json:"cwd,omitempty"`
	Branch       string              `json:"branch,omitempty"`
	SessionID    string              `json:"sessionId,omitempty"`
}

// Encode renders rec as a static, browser-openable form document.
func Encode(rec Record) ([]byte, error) {
	if rec.Document == nil {
		return nil, fmt.Errorf("encoding snapshot: record has no questions")
	}
	if rec.Version == 0 {
		rec.Version = FormatVersion
	}
	if rec.Answers == nil {
		rec.Answers = questions.Answers{}
	}

	var buf bytes.Buffer
	err := web.Render(&buf, web.Page{
		Title:  rec.Document.Title,
		Config: web.Config{Mode: web.ModeStatic},
		Data:   rec,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Load reads and decodes the snapshot document at path. Relative file
// references are resolved against the document's own directory.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, filepath.Dir(abs))
}

// Decode extracts the record from a snapshot document, re-validates its
// questions and resolves relative file references against dir.
func Decode(data []byte, dir string) (*Record, error) {
	block, ok := extractBlock(data)
	if !ok {
		return nil, ErrNotSnapshot
	}

	var rec Record
	if err := json.Unmarshal(block, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if rec.Document == nil {
		return nil, fmt.Errorf("%w: no questions in data block", ErrCorruptSnapshot)
	}
	if err := rec.Document.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if rec.Answers == nil {
		rec.Answers = questions.Answers{}
	}

	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		dir = abs
	}
	for id, v := range rec.Answers {
		if !v.List || !rec.Document.FileAnswer(id) {
			continue
		}
		for i, ref := range v.Items {
			v.Items[i] = resolveRef(ref, dir)
		}
		rec.Answers[id] = v
	}
	return &rec, nil
}

func extractBlock(data []byte) ([]byte, bool) {
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return nil, false
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "script" || !hasAttr || !hasDataID(z) {
				continue
			}
			if z.Next() != html.TextToken {
				return []byte{}, true
			}
			return bytes.Clone(z.Text()), true
		}
	}
}

func hasDataID(z *html.Tokenizer) bool {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "id" && string(val) == web.DataBlockID {
			return true
		}
		if !more {
			return false
		}
	}
}

// schemeRE matches a URI scheme. Two or more characters keep Windows drive
// letters out.
var schemeRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]+:`)

func resolveRef(ref, dir string) string {
	if ref == "" || schemeRE.MatchString(ref) || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(dir, ref)
}
