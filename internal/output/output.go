// Package output writes generated code to disk.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/manash/buildfy/internal/security"
)

var ErrNothingToSave = errors.New("no generated code to save")

type Saver struct {
	now func() time.Time
	// AllowAbsolute accepts absolute destinations. Paths typed into the
	// interactive prompt are kept relative to the working directory.
	AllowAbsolute bool
}

func NewSaver() *Saver {
	return &Saver{now: time.Now}
}

// Save atomically writes code to path, or to DefaultFilename when path is
// empty, and returns the path written.
func (s *Saver) Save(code, path string) (string, error) {
	if code == "" {
		return "", ErrNothingToSave
	}
	if path == "" {
		path = DefaultFilename(s.now())
	}

	if err := security.ValidateSavePath(path, s.AllowAbsolute); err != nil {
		return "", fmt.Errorf("invalid output path: %w", err)
	}

	if err := ensureDir(path); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	if err := renameio.WriteFile(path, []byte(code), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// DefaultFilename is App-<timestamp>.tsx for the given time.
func DefaultFilename(t time.Time) string {
	return fmt.Sprintf("App-%s.tsx", t.Format("20060102-150405"))
}

// NumberedFilename derives the output name for the index-th (zero-based)
// screenshot of a batch from its source, e.g. "shots/home.png" ->
// "001-home.tsx". The prefix keeps names unique when sources share a base.
func NumberedFilename(dir, source string, index int) string {
	if i := strings.IndexAny(source, "?#"); i >= 0 && security.IsRemote(source) {
		source = source[:i]
	}
	base := filepath.Base(source)
	name := base[:len(base)-len(filepath.Ext(base))]
	name = security.SanitizeFilename(name)
	if name == "file" || name == "" {
		name = "app"
	}
	return filepath.Join(dir, fmt.Sprintf("%03d-%s.tsx", index+1, name))
}
