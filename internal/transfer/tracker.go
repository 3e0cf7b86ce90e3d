// Package transfer implements the per-(observer, path) chunk reassembly
// state machine that turns a stream of chunk responses into a completed
// file on disk.
package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/keagster/syndactyl/internal/fsstore"
)

// State is a transfer's position in the Absent -> Assembling ->
// {Done|Failed} state machine.
type State int

const (
	// Absent means no transfer is in progress for a key.
	Absent State = iota
	// Assembling means chunks are being buffered.
	Assembling
	// Done means the assembled file was written and verified.
	Done
	// Failed means assembly was abandoned; the failure reason is
	// recorded alongside it.
	Failed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "Absent"
	case Assembling:
		return "Assembling"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FailureReason classifies why a transfer ended in Failed.
type FailureReason int

const (
	// NoFailure is the zero value, used when State != Failed.
	NoFailure FailureReason = iota
	// SizeMismatch means the assembled byte count did not match the
	// size declared at start_transfer.
	SizeMismatch
	// HashMismatch means the assembled content's SHA-256 did not match
	// the hash declared at start_transfer.
	HashMismatch
	// IOFailure means writing the assembled bytes to disk failed.
	IOFailure
)

func (r FailureReason) String() string {
	switch r {
	case SizeMismatch:
		return "SizeMismatch"
	case HashMismatch:
		return "HashMismatch"
	case IOFailure:
		return "Io"
	default:
		return "None"
	}
}

// ErrNoSuchTransfer is returned by AddChunk when no transfer is in
// progress for the given key.
type ErrNoSuchTransfer struct {
	Key Key
}

func (e ErrNoSuchTransfer) Error() string {
	return fmt.Sprintf("transfer: no such transfer for %s", e.Key)
}

// Key identifies a transfer by the observer it belongs to and the
// wire-relative path being fetched.
type Key struct {
	Observer string
	Path     string
}

func (k Key) String() string {
	return k.Observer + ":" + k.Path
}

// transferState is the tracker's private bookkeeping for one in-flight
// transfer. Its presence in Tracker.transfers under a key is itself the
// Assembling state; there is nothing to record for Absent, Done, or
// Failed, since those are where the entry is removed.
type transferState struct {
	totalSize    int64
	expectedHash string
	basePath     string
	chunks       map[int64][]byte
}

// Tracker holds the set of in-flight transfers, keyed by (observer,
// path). A Tracker is safe for concurrent use, though in the reference
// orchestrator it is only ever touched from the single reactor
// goroutine.
type Tracker struct {
	mu        sync.Mutex
	transfers map[Key]*transferState
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{transfers: make(map[Key]*transferState)}
}

// StartTransfer moves key from Absent to Assembling, replacing any prior
// state for that key.
func (t *Tracker) StartTransfer(key Key, totalSize int64, expectedHash, basePath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.transfers[key] = &transferState{
		totalSize:    totalSize,
		expectedHash: expectedHash,
		basePath:     basePath,
		chunks:       make(map[int64][]byte),
	}
}

// State reports whether a transfer is currently being assembled for
// key. Done and Failed are terminal and destroy the entry (spec.md
// §3), so State only ever returns Absent or Assembling; the outcome of
// a terminal transition is reported directly by AddChunk/Complete's
// return value instead.
func (t *Tracker) State(key Key) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.transfers[key]; ok {
		return Assembling
	}
	return Absent
}

// AddChunk stores data at offset for the transfer identified by key. A
// duplicate offset is overwritten by the latest write (last writer
// wins). When isLast is true, AddChunk triggers completion and reports
// the resulting state and, on Failed, the reason.
//
// AddChunk returns ErrNoSuchTransfer if key is Absent.
func (t *Tracker) AddChunk(key Key, offset int64, data []byte, isLast bool) (State, FailureReason, error) {
	t.mu.Lock()
	ts, ok := t.transfers[key]
	if !ok {
		t.mu.Unlock()
		return Absent, NoFailure, ErrNoSuchTransfer{Key: key}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	ts.chunks[offset] = buf
	t.mu.Unlock()

	if isLast {
		return t.Complete(key)
	}
	return Assembling, NoFailure, nil
}

// Complete assembles buffered chunks in ascending offset order, verifies
// size and hash, and writes the result through fsstore to
// basePath/relativePath. Whether it succeeds or fails, the transfer
// entry is destroyed before Complete returns: on success the assembled
// file is on disk and nothing remains to buffer; on failure spec.md §3
// calls for the state to be discarded rather than left around for a
// caller to notice later.
func (t *Tracker) Complete(key Key) (State, FailureReason, error) {
	t.mu.Lock()
	ts, ok := t.transfers[key]
	if !ok {
		t.mu.Unlock()
		return Absent, NoFailure, ErrNoSuchTransfer{Key: key}
	}

	offsets := make([]int64, 0, len(ts.chunks))
	for off := range ts.chunks {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	assembled := make([]byte, 0, ts.totalSize)
	for _, off := range offsets {
		assembled = append(assembled, ts.chunks[off]...)
	}

	totalSize := ts.totalSize
	expectedHash := ts.expectedHash
	basePath := ts.basePath
	t.mu.Unlock()

	if int64(len(assembled)) != totalSize {
		t.discard(key)
		return Failed, SizeMismatch, nil
	}

	sum := sha256.Sum256(assembled)
	if hex.EncodeToString(sum[:]) != expectedHash {
		t.discard(key)
		return Failed, HashMismatch, nil
	}

	absolute := fsstore.ToAbsolute(key.Path, basePath)

	if err := fsstore.Write(absolute, assembled); err != nil {
		t.discard(key)
		return Failed, IOFailure, nil
	}

	t.discard(key)
	return Done, NoFailure, nil
}

// Path returns the absolute path a completed transfer was written to.
func (t *Tracker) Path(key Key, basePath string) string {
	return fsstore.ToAbsolute(key.Path, basePath)
}

// CancelTransfer discards buffered state for key, returning it to
// Absent.
func (t *Tracker) CancelTransfer(key Key) {
	t.discard(key)
}

func (t *Tracker) discard(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.transfers, key)
}
