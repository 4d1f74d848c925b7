// Package localstore is a remote store backed by a plain directory. It
// serves offline use and tests. Only regular files directly under the
// root are objects.
package localstore

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 matches the single-part S3 ETag, not used for security
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/bucket-sync/internal/errors"
	"github.com/alexjbarnes/bucket-sync/internal/metrics"
	"github.com/alexjbarnes/bucket-sync/internal/models"
	"github.com/alexjbarnes/bucket-sync/internal/remote"
)

const storeDirPerm = fs.FileMode(0o755)

// Store treats a directory as a bucket.
type Store struct {
	dir    string
	name   string
	logger *slog.Logger
}

// New creates a store rooted at dir, creating the directory if needed.
// The directory's base name is reported as the container name.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory must not be empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", abs, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Store{dir: abs, name: filepath.Base(abs), logger: logger}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// LoadAll returns a record for every regular file under the root,
// ordered by name. Hidden files are skipped.
func (s *Store) LoadAll(ctx context.Context) ([]models.FileRecord, error) {
	start := time.Now()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		metrics.RecordStoreOperation("list", time.Since(start), false)
		return nil, &apperrors.StoreError{Op: "list", Err: fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)}
	}

	recs := make([]models.FileRecord, 0, len(entries))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			metrics.RecordStoreOperation("list", time.Since(start), false)
			return nil, &apperrors.StoreError{Op: "list", Err: err}
		}

		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		rec, err := s.record(e.Name())
		if err != nil {
			metrics.RecordStoreOperation("list", time.Since(start), false)
			return nil, &apperrors.StoreError{Op: "list", Name: e.Name(), Err: err}
		}

		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })

	metrics.RecordStoreOperation("list", time.Since(start), true)

	return recs, nil
}

// Save copies the file at path into the root under its base name.
func (s *Store) Save(ctx context.Context, path string) (models.FileRecord, error) {
	start := time.Now()
	name := models.LocalName(filepath.Base(path))

	if err := ctx.Err(); err != nil {
		return models.FileRecord{}, &apperrors.StoreError{Op: "put", Name: name, Err: err}
	}

	f, err := os.Open(path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("stat %s: %w", path, err)
	}

	if info.IsDir() {
		return models.FileRecord{}, fmt.Errorf("%s is a directory", path)
	}

	if _, err := remote.WriteFile(s.dir, name, f, info.ModTime()); err != nil {
		metrics.RecordStoreOperation("put", time.Since(start), false)
		return models.FileRecord{}, &apperrors.StoreError{Op: "put", Name: name, Err: err}
	}

	metrics.RecordStoreOperation("put", time.Since(start), true)

	rec, err := s.record(name)
	if err != nil {
		return models.FileRecord{}, &apperrors.StoreError{Op: "put", Name: name, Err: err}
	}

	rec.Path = path
	s.logger.Debug("stored file", slog.String("name", name), slog.Int64("size", rec.Size))

	return rec, nil
}

// Delete removes the file named by rec. A missing file is a StoreError
// wrapping ErrNotFound.
func (s *Store) Delete(ctx context.Context, rec models.FileRecord) error {
	start := time.Now()
	name := rec.Name

	if err := ctx.Err(); err != nil {
		return &apperrors.StoreError{Op: "delete", Name: name, Err: err}
	}

	abs, err := remote.ResolvePath(s.dir, name)
	if err != nil {
		return &apperrors.StoreError{Op: "delete", Name: name, Err: err}
	}

	if err := os.Remove(abs); err != nil {
		metrics.RecordStoreOperation("delete", time.Since(start), false)

		if os.IsNotExist(err) {
			err = apperrors.ErrNotFound
		}

		return &apperrors.StoreError{Op: "delete", Name: name, Err: err}
	}

	metrics.RecordStoreOperation("delete", time.Since(start), true)

	return nil
}

// Download copies the named file into dir and returns the local path.
func (s *Store) Download(ctx context.Context, name, dir string) (string, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return "", &apperrors.StoreError{Op: "get", Name: name, Err: err}
	}

	src, err := remote.ResolvePath(s.dir, name)
	if err != nil {
		return "", &apperrors.StoreError{Op: "get", Name: name, Err: err}
	}

	f, err := os.Open(src) //nolint:gosec // G304: src validated by remote.ResolvePath
	if err != nil {
		metrics.RecordStoreOperation("get", time.Since(start), false)

		if os.IsNotExist(err) {
			err = apperrors.ErrNotFound
		}

		return "", &apperrors.StoreError{Op: "get", Name: name, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", src, err)
	}

	path, err := remote.WriteFile(dir, name, f, info.ModTime())
	if err != nil {
		metrics.RecordStoreOperation("get", time.Since(start), false)
		return "", fmt.Errorf("writing %s: %w", name, err)
	}

	metrics.RecordStoreOperation("get", time.Since(start), true)

	return path, nil
}

func (s *Store) record(name string) (models.FileRecord, error) {
	abs := filepath.Join(s.dir, name)

	f, err := os.Open(abs) //nolint:gosec // G304: name comes from the store directory listing
	if err != nil {
		return models.FileRecord{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.FileRecord{}, err
	}

	h := md5.New() //nolint:gosec // see import
	if _, err := io.Copy(h, f); err != nil {
		return models.FileRecord{}, fmt.Errorf("hashing %s: %w", name, err)
	}

	return models.NewBuilder().
		Name(name).
		Path(abs).
		Size(info.Size()).
		ModifiedAt(info.ModTime()).
		Checksum(hex.EncodeToString(h.Sum(nil))).
		Container(s.name).
		Build(), nil
}
