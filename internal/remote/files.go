// Package remote holds helpers shared by the remote store
// implementations. The stores themselves live in the s3store and
// localstore subpackages.
package remote

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dirPerm  = fs.FileMode(0o755)
	filePerm = fs.FileMode(0o644)
)

// ResolvePath joins an object name onto dir and rejects names that
// would land outside it.
func ResolvePath(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty object name")
	}

	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("object name contains null byte: %q", name)
	}

	slashed := strings.ReplaceAll(name, "\\", "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("object name contains ..: %q", name)
		}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}

	abs := filepath.Join(absDir, filepath.FromSlash(slashed))
	if !strings.HasPrefix(abs, absDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("object name %q resolves outside %s", name, dir)
	}

	return abs, nil
}

// WriteFile streams r into dir/name through a temp file and rename, so
// readers never see a partial file. A non-zero mtime is applied to the
// result. It returns the absolute path written.
func WriteFile(dir, name string, r io.Reader, mtime time.Time) (string, error) {
	abs, err := ResolvePath(dir, name)
	if err != nil {
		return "", err
	}

	parent := filepath.Dir(abs)
	if err := os.MkdirAll(parent, dirPerm); err != nil {
		return "", fmt.Errorf("creating directories: %w", err)
	}

	tmp, err := os.CreateTemp(parent, ".bucket-sync-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("renaming temp file: %w", err)
	}

	if !mtime.IsZero() {
		if err := os.Chtimes(abs, mtime, mtime); err != nil {
			return "", fmt.Errorf("setting mtime: %w", err)
		}
	}

	return abs, nil
}
