package remote

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "a.txt", filepath.Join(dir, "a.txt"), false},
		{"nested", "docs/a.txt", filepath.Join(dir, "docs", "a.txt"), false},
		{"empty", "", "", true},
		{"dotdot", "../escape.txt", "", true},
		{"nested dotdot", "docs/../../escape.txt", "", true},
		{"backslash dotdot", `docs\..\..\escape.txt`, "", true},
		{"null byte", "a\x00.txt", "", true},
		{"dot only", ".", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(dir, tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	path, err := WriteFile(dir, "sub/out.txt", strings.NewReader("hello"), mtime)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "out.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))

	entries, err := os.ReadDir(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be renamed away")
}

func TestWriteFile_Overwrites(t *testing.T) {
	dir := t.TempDir()

	_, err := WriteFile(dir, "a.txt", strings.NewReader("one"), time.Time{})
	require.NoError(t, err)
	path, err := WriteFile(dir, "a.txt", strings.NewReader("two"), time.Time{})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestWriteFile_RejectsTraversal(t *testing.T) {
	_, err := WriteFile(t.TempDir(), "../x.txt", strings.NewReader("x"), time.Time{})
	assert.Error(t, err)
}
