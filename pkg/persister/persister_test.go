package persister

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendFlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(filepath.Join(dir, "seg.log"))
	require.NoError(t, err)
	defer p.Close()

	n, err := p.AppendFlush([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	n, err = p.Append([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	got, err := os.ReadFile(filepath.Join(dir, "seg.log"))
	require.NoError(t, err)
	require.Equal(t, "helloworld", string(got))
}

func TestOverwriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.log")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	require.NoError(t, Overwrite(path, []byte("new-content")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new-content", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file after overwrite")
}
