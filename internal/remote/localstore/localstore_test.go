package localstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/bucket-sync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "bucket"), quietLogger)
	require.NoError(t, err)
	return s
}

func writeLocal(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("", quietLogger)
	assert.Error(t, err)
}

func TestSave_CopiesAndHashes(t *testing.T) {
	s := testStore(t)
	src := writeLocal(t, "hello.txt", "hello world")

	mtime := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	rec, err := s.Save(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "hello.txt", rec.Name)
	assert.Equal(t, src, rec.Path)
	assert.Equal(t, int64(11), rec.Size)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", rec.Checksum)
	assert.Equal(t, "bucket", rec.ContainerName)
	assert.True(t, rec.ModifiedAt.Equal(mtime))

	data, err := os.ReadFile(filepath.Join(s.Dir(), "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestSave_Directory(t *testing.T) {
	s := testStore(t)
	_, err := s.Save(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestLoadAll_MatchesSave(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, writeLocal(t, "b.txt", "bbb"))
	require.NoError(t, err)
	_, err = s.Save(ctx, writeLocal(t, "a.txt", "a"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "subdir"), 0o755))

	recs, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a.txt", recs[0].Name)
	assert.Equal(t, "b.txt", recs[1].Name)
	assert.Equal(t, saved.Checksum, recs[1].Checksum)
	assert.True(t, saved.ModifiedAt.Equal(recs[1].ModifiedAt))
}

func TestLoadAll_MissingRoot(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.RemoveAll(s.Dir()))

	_, err := s.LoadAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec, err := s.Save(ctx, writeLocal(t, "gone.txt", "x"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, rec))

	_, err = os.Stat(filepath.Join(s.Dir(), "gone.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDelete_Missing(t *testing.T) {
	s := testStore(t)

	rec, err := s.Save(context.Background(), writeLocal(t, "a.txt", "x"))
	require.NoError(t, err)
	rec.Name = "never.txt"

	err = s.Delete(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var storeErr *apperrors.StoreError
	assert.True(t, errors.As(err, &storeErr))
}

func TestDelete_Traversal(t *testing.T) {
	s := testStore(t)
	rec, err := s.Save(context.Background(), writeLocal(t, "a.txt", "x"))
	require.NoError(t, err)
	rec.Name = "../a.txt"

	assert.Error(t, s.Delete(context.Background(), rec))
}

func TestDownload(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, writeLocal(t, "doc.txt", "contents"))
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := s.Download(ctx, "doc.txt", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))
}

func TestDownload_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Download(context.Background(), "missing.txt", t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCancelledContext(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Save(ctx, writeLocal(t, "a.txt", "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

// Files dropped into the store by other tools are addressed by their
// exact on-disk name.
func TestListedNames_RoundTripByteForByte(t *testing.T) {
	for _, name := range []string{"report.txt ", "cafe\u0301.txt"} {
		t.Run(name, func(t *testing.T) {
			s := testStore(t)
			ctx := context.Background()
			require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), name), []byte("payload"), 0o644))

			recs, err := s.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, name, recs[0].Name)

			path, err := s.Download(ctx, recs[0].Name, t.TempDir())
			require.NoError(t, err)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "payload", string(data))

			require.NoError(t, s.Delete(ctx, recs[0]))
			_, err = os.Stat(filepath.Join(s.Dir(), name))
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestSave_LocalNameIsNFC(t *testing.T) {
	s := testStore(t)

	rec, err := s.Save(context.Background(), writeLocal(t, "cafe\u0301.txt", "x"))
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9.txt", rec.Name)
	assert.FileExists(t, filepath.Join(s.Dir(), "caf\u00e9.txt"))
}
