package spool_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dontdude/goscribe/internal/domain"
	"github.com/dontdude/goscribe/internal/spool"

	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestNew(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "tmp")
	s, err := spool.New(dir)
	require.NoError(t, err)
	require.Equal(t, dir, s.Dir())
	require.DirExists(t, dir)

	// a regular file in the way
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = spool.New(filepath.Join(file, "tmp"))
	require.ErrorIs(t, err, domain.ErrStartup)
}

func TestSave(t *testing.T) {
	t.Parallel()
	s, err := spool.New(t.TempDir())
	require.NoError(t, err)

	a, err := s.Save("batch-1", "../../etc/passwd", strings.NewReader("hello"))
	require.NoError(t, err)
	b, err := s.Save("batch-1", "../../etc/passwd", strings.NewReader("world"))
	require.NoError(t, err)

	require.Equal(t, "../../etc/passwd", a.Name)
	require.Equal(t, "batch-1", a.BatchID)
	require.NotEqual(t, a.Path, b.Path, "every upload gets its own file")
	require.Equal(t, s.Dir(), filepath.Dir(a.Path))
	require.True(t, strings.HasSuffix(a.Path, ".blob"))

	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestSaveFailure(t *testing.T) {
	t.Parallel()
	s, err := spool.New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Save("batch-1", "a.mp3", failingReader{})
	require.ErrorContains(t, err, "connection reset")

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Empty(t, entries, "partial upload left behind")
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s, err := spool.New(t.TempDir())
	require.NoError(t, err)

	converted, err := s.Save("", "a.mp3", strings.NewReader("a"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(domain.NormalizedPath(converted.Path), []byte("wav"), 0o644))
	// conversion never ran for this one
	raw, err := s.Save("", "b.mp3", strings.NewReader("b"))
	require.NoError(t, err)

	s.Remove(converted, raw)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}
