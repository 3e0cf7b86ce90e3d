package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagster/syndactyl/internal/auth"
	"github.com/keagster/syndactyl/internal/config"
	"github.com/keagster/syndactyl/internal/protocol"
	"github.com/keagster/syndactyl/internal/transfer"
	"github.com/keagster/syndactyl/internal/transport"
)

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func waitForFile(t *testing.T, path string, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			return data
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to appear", path)
	return nil
}

// TestTwoChunkFetch reproduces spec.md §8 scenario 3: a remote peer
// serves a 1.5 MiB file across two request/response round trips, and
// the local node assembles it byte-for-byte.
func TestTwoChunkFetch(t *testing.T) {
	newEngine := transport.NewLoopbackNetwork()

	content := make([]byte, 1572864) // 1.5 MiB
	for i := range content {
		content[i] = byte(i % 251)
	}
	wantHash := hashHex(content)

	remoteBase := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(remoteBase, "y.bin"), content, 0o644))
	remoteCfg := &config.Config{Observers: []config.Observer{{Name: "obs", Path: remoteBase}}}
	remoteEngine := newEngine("peer-remote")
	remoteOrch := New(remoteCfg, transfer.New(), remoteEngine, nil, nil)
	remoteCtx, remoteCancel := context.WithCancel(context.Background())
	defer remoteCancel()
	go remoteOrch.Run(remoteCtx)

	localBase := t.TempDir()
	localCfg := &config.Config{Observers: []config.Observer{{Name: "obs", Path: localBase}}}
	localEngine := newEngine("peer-local")
	localWatcher := make(chan protocol.Announcement, 1)
	localOrch := New(localCfg, transfer.New(), localEngine, localWatcher, nil)
	localCtx, localCancel := context.WithCancel(context.Background())
	defer localCancel()
	go localOrch.Run(localCtx)

	size := int64(len(content))
	ann := protocol.Announcement{
		Observer: "obs",
		Kind:     protocol.EventCreate,
		Path:     "y.bin",
		Hash:     wantHash,
		Size:     &size,
	}
	payload, err := protocol.EncodeAnnouncement(ann)
	require.NoError(t, err)
	require.NoError(t, remoteEngine.PublishGossip(context.Background(), payload))

	got := waitForFile(t, filepath.Join(localBase, "y.bin"), 3*time.Second)
	assert.Equal(t, content, got, "assembled file does not match source bytes")
	assert.Equal(t, wantHash, hashHex(got), "assembled file hash does not match expected hash")
}

// TestHashParityShortcut reproduces spec.md §8 scenario 2: when the
// local file's hash already matches the announcement, no transfer is
// attempted.
func TestHashParityShortcut(t *testing.T) {
	newEngine := transport.NewLoopbackNetwork()

	content := []byte("hi")
	wantHash := hashHex(content)

	localBase := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localBase, "x.txt"), content, 0o644))
	localCfg := &config.Config{Observers: []config.Observer{{Name: "obs", Path: localBase}}}
	localEngine := newEngine("peer-local")
	tracker := transfer.New()
	localOrch := New(localCfg, tracker, localEngine, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go localOrch.Run(ctx)

	remoteEngine := newEngine("peer-remote")
	size := int64(len(content))
	ann := protocol.Announcement{Observer: "obs", Kind: protocol.EventCreate, Path: "x.txt", Hash: wantHash, Size: &size}
	payload, err := protocol.EncodeAnnouncement(ann)
	require.NoError(t, err)
	require.NoError(t, remoteEngine.PublishGossip(context.Background(), payload))

	time.Sleep(200 * time.Millisecond)
	state := tracker.State(transfer.Key{Observer: "obs", Path: "x.txt"})
	assert.Equal(t, transfer.Absent, state, "expected no transfer state to be created")
}

// TestForgedAnnouncementDropped reproduces spec.md §8 scenario 6: an
// announcement tagged with the wrong secret is dropped before any
// transfer request is sent.
func TestForgedAnnouncementDropped(t *testing.T) {
	newEngine := transport.NewLoopbackNetwork()

	localBase := t.TempDir()
	localCfg := &config.Config{Observers: []config.Observer{{Name: "obs", Path: localBase, SharedSecret: "s"}}}
	localEngine := newEngine("peer-local")
	tracker := transfer.New()
	localOrch := New(localCfg, tracker, localEngine, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go localOrch.Run(ctx)

	remoteEngine := newEngine("peer-remote")
	size := int64(3)
	ann := protocol.Announcement{Observer: "obs", Kind: protocol.EventCreate, Path: "y.txt", Hash: "deadbeef", Size: &size}
	ann.Tag = auth.Compute([]byte("different-secret"), ann)

	payload, err := protocol.EncodeAnnouncement(ann)
	require.NoError(t, err)
	require.NoError(t, remoteEngine.PublishGossip(context.Background(), payload))

	time.Sleep(200 * time.Millisecond)
	state := tracker.State(transfer.Key{Observer: "obs", Path: "y.txt"})
	assert.Equal(t, transfer.Absent, state, "expected forged announcement to be dropped")

	_, err = os.Stat(filepath.Join(localBase, "y.txt"))
	assert.True(t, os.IsNotExist(err), "expected no file to be written for a forged announcement")
}
