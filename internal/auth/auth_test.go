package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagster/syndactyl/internal/protocol"
)

func sampleAnnouncement() protocol.Announcement {
	size := int64(4096)
	mtime := int64(1700000000)
	return protocol.Announcement{
		Observer: "docs",
		Kind:     protocol.EventModify,
		Path:     "notes/todo.md",
		Hash:     "deadbeef",
		Size:     &size,
		Mtime:    &mtime,
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	secret := []byte("s3cr3t")
	a := sampleAnnouncement()

	t1 := Compute(secret, a)
	t2 := Compute(secret, a)
	require.Equal(t, t1, t2, "Compute must be deterministic")
	assert.NotEmpty(t, t1)
	assert.Len(t, t1, 64, "expected a 64-char lowercase hex tag")
}

func TestVerifyAcceptsValidTag(t *testing.T) {
	secret := []byte("s3cr3t")
	a := sampleAnnouncement()
	tag := Compute(secret, a)

	assert.True(t, Verify(secret, a, tag), "Verify rejected a tag it just computed")
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a := sampleAnnouncement()
	tag := Compute([]byte("s3cr3t"), a)

	assert.False(t, Verify([]byte("wrong-secret"), a, tag))
}

func TestVerifyRejectsMutatedFields(t *testing.T) {
	secret := []byte("s3cr3t")
	a := sampleAnnouncement()
	tag := Compute(secret, a)

	mutations := []func(protocol.Announcement) protocol.Announcement{
		func(a protocol.Announcement) protocol.Announcement { a.Observer = "other"; return a },
		func(a protocol.Announcement) protocol.Announcement { a.Kind = protocol.EventCreate; return a },
		func(a protocol.Announcement) protocol.Announcement { a.Path = "notes/other.md"; return a },
		func(a protocol.Announcement) protocol.Announcement { a.Hash = "cafebabe"; return a },
		func(a protocol.Announcement) protocol.Announcement {
			bigger := *a.Size + 1
			a.Size = &bigger
			return a
		},
		func(a protocol.Announcement) protocol.Announcement {
			later := *a.Mtime + 1
			a.Mtime = &later
			return a
		},
	}

	for i, mutate := range mutations {
		mutated := mutate(a)
		assert.Falsef(t, Verify(secret, mutated, tag), "mutation %d: Verify accepted a tag for a changed field", i)
	}
}

func TestVerifyRejectsMalformedTag(t *testing.T) {
	secret := []byte("s3cr3t")
	a := sampleAnnouncement()

	assert.False(t, Verify(secret, a, "not-hex!!"))
	assert.False(t, Verify(secret, a, ""))
}

func TestSignSetsTagThatVerifies(t *testing.T) {
	secret := []byte("s3cr3t")
	a := sampleAnnouncement()

	signed := Sign(secret, a)
	require.NotEmpty(t, signed.Tag)
	assert.True(t, Verify(secret, signed, signed.Tag))
}

func TestComputeCoversEveryField(t *testing.T) {
	secret := []byte("s3cr3t")
	base := sampleAnnouncement()
	baseTag := Compute(secret, base)

	withoutSize := base
	withoutSize.Size = nil
	assert.NotEqual(t, baseTag, Compute(secret, withoutSize), "dropping Size did not change the tag")

	withoutMtime := base
	withoutMtime.Mtime = nil
	assert.NotEqual(t, baseTag, Compute(secret, withoutMtime), "dropping Mtime did not change the tag")
}

// TestCanonicalMessageScenario reproduces the concrete scenario 1 from
// spec.md §8: a specific announcement, tagged, verified, then broken by
// mutating a single field.
func TestCanonicalMessageScenario(t *testing.T) {
	size := int64(3)
	mtime := int64(1)
	a := protocol.Announcement{
		Observer: "obs",
		Kind:     protocol.EventCreate,
		Path:     "a.txt",
		Hash:     "ab",
		Size:     &size,
		Mtime:    &mtime,
	}
	secret := []byte("k")

	tag := Compute(secret, a)
	require.Len(t, tag, 64)

	signed := a
	signed.Tag = tag
	assert.True(t, Verify(secret, signed, signed.Tag))

	signed.Path = "b.txt"
	assert.False(t, Verify(secret, signed, tag))
}
