package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxNameAttempts bounds the search for a free file name within one second
// for the same session.
const maxNameAttempts = 1000

// Writer persists records as documents. Every write targets a fresh file, so
// concurrent writers never need to coordinate.
type Writer struct {
	SnapshotDir string
	RecoveryDir string
}

// WriteSnapshot writes a user-facing snapshot and returns its path.
func (w Writer) WriteSnapshot(rec Record) (string, error) {
	rec.Kind = KindSnapshot
	return write(w.SnapshotDir, rec)
}

// WriteRecovery writes a recovery document and returns its path.
func (w Writer) WriteRecovery(rec Record) (string, error) {
	rec.Kind = KindRecovery
	return write(w.RecoveryDir, rec)
}

func write(dir string, rec Record) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("no %s directory configured", rec.Kind)
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	data, err := Encode(rec)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s directory: %w", rec.Kind, err)
	}

	base := fmt.Sprintf("%s-%s-%s", rec.Kind, rec.SavedAt.UTC().Format("20060102T150405Z"), shortID(rec.SessionID))
	for n := 0; n < maxNameAttempts; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		path := filepath.Join(dir, name+".html")

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", rec.Kind, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("writing %s: %w", rec.Kind, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return "", fmt.Errorf("syncing %s: %w", rec.Kind, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("closing %s: %w", rec.Kind, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free %s file name for %s", rec.Kind, base)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if id == "" {
		return "session"
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
