package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagster/syndactyl/internal/logging"
	"github.com/keagster/syndactyl/internal/protocol"
)

func drainUntil(t *testing.T, ch <-chan protocol.Announcement, kind protocol.EventKind, timeout time.Duration) protocol.Announcement {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ann := <-ch:
			if ann.Kind == kind {
				return ann
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a %s announcement", kind)
			return protocol.Announcement{}
		}
	}
}

func TestWatcherPublishesCreateAnnouncement(t *testing.T) {
	dir := t.TempDir()

	w := New(logging.Default())
	require.NoError(t, w.Start([]Observer{{Name: "docs", Path: dir}}))
	defer w.Stop()

	path := filepath.Join(dir, "todo.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	ann := drainUntil(t, w.Announcements(), protocol.EventCreate, 3*time.Second)
	assert.Equal(t, "docs", ann.Observer)
	assert.Equal(t, "todo.md", ann.Path)
	assert.Empty(t, ann.Tag, "expected watcher to leave Tag empty")
	assert.NotEmpty(t, ann.Hash)
}

func TestWatcherDropsHiddenAndReservedPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".syndactyl"), 0o755))

	w := New(logging.Default())
	require.NoError(t, w.Start([]Observer{{Name: "docs", Path: dir}}))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".syndactyl", "state"), []byte("x"), 0o644))
	// A visible file should still come through, proving the watcher is
	// alive and the prior two writes were filtered, not merely slow.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.txt"), []byte("x"), 0o644))

	ann := drainUntil(t, w.Announcements(), protocol.EventCreate, 3*time.Second)
	assert.Equal(t, "visible.txt", ann.Path, "expected only visible.txt to surface")
}

func TestWatcherStopClosesChannel(t *testing.T) {
	dir := t.TempDir()

	w := New(logging.Default())
	require.NoError(t, w.Start([]Observer{{Name: "docs", Path: dir}}))
	w.Stop()

	_, ok := <-w.Announcements()
	assert.False(t, ok, "expected Announcements channel to be closed after Stop")
}
