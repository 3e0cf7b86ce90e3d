package fsstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministicAndContentDependent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	h1, err := Hash(path)
	require.NoError(t, err)
	h2, err := Hash(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "Hash must be deterministic")

	require.NoError(t, os.WriteFile(path, []byte("hello world!"), 0o644))
	h3, err := Hash(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "Hash did not change after content changed")
}

func TestReadChunkShortReadAtEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	chunk, err := ReadChunk(path, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, "56789", string(chunk))
}

func TestReadChunkMiddle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	chunk, err := ReadChunk(path, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "234", string(chunk))
}

func TestWriteCreatesParentDirsAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "a.txt")

	require.NoError(t, Write(path, []byte("first")))
	require.NoError(t, Write(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))

	size, mtime, err := Metadata(path)
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
	assert.Greater(t, mtime, int64(0))
}

func TestToRelativeAndToAbsolute(t *testing.T) {
	base := "/srv/docs"

	rel, ok := ToRelative("/srv/docs/notes/todo.md", base)
	require.True(t, ok)
	assert.Equal(t, "notes/todo.md", rel)

	_, ok = ToRelative("/srv/other/todo.md", base)
	assert.False(t, ok, "expected ToRelative to reject a non-descendant path")

	_, ok = ToRelative(base, base)
	assert.False(t, ok, "expected ToRelative to reject the base path itself")

	abs := ToAbsolute("notes/todo.md", base)
	assert.Equal(t, filepath.Join(base, "notes", "todo.md"), abs)
}

func TestShouldSync(t *testing.T) {
	cases := []struct {
		relative string
		want     bool
	}{
		{"notes/todo.md", true},
		{"todo.md", true},
		{".syndactyl/trash/todo.md.123", false},
		{".syndactyl/state.json", false},
		{"notes/.hidden", false},
		{".hidden", false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, ShouldSync(c.relative), "ShouldSync(%q)", c.relative)
	}
}

func TestMoveToTrash(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "todo.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, MoveToTrash(path, base))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "expected original file to be gone after MoveToTrash")

	entries, err := os.ReadDir(filepath.Join(base, ".syndactyl", "trash"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, filepath.Ext(entries[0].Name()), "expected trashed name to carry a timestamp suffix")
}
