// Package auth computes and verifies the HMAC-SHA256 tags that let an
// observer with a shared secret prove authorship of an announcement.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/keagster/syndactyl/internal/protocol"
)

// Compute returns the hex-encoded HMAC-SHA256 tag over the canonical byte
// layout of an announcement, keyed by the observer's shared secret.
func Compute(secret []byte, a protocol.Announcement) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(a.CanonicalBytes())
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether tag is a valid HMAC-SHA256 tag for a under secret.
// Comparison uses hmac.Equal, which runs in constant time with respect to
// the tag contents.
func Verify(secret []byte, a protocol.Announcement, tag string) bool {
	decoded, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	expected := Compute(secret, a)
	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, expectedBytes)
}

// Sign returns a copy of a with Tag set to the HMAC-SHA256 tag computed
// under secret.
func Sign(secret []byte, a protocol.Announcement) protocol.Announcement {
	a.Tag = Compute(secret, a)
	return a
}
