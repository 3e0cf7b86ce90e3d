package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodeAnnouncement serializes an Announcement as canonical JSON for
// gossip publication.
func EncodeAnnouncement(a Announcement) ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAnnouncement parses a gossip message payload.
func DecodeAnnouncement(data []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return Announcement{}, fmt.Errorf("protocol: decode announcement: %w", err)
	}
	return a, nil
}

// Request is the union of request message shapes the file-transfer
// protocol accepts. Exactly one of TransferRequest or ChunkRequest is set.
type Request struct {
	Transfer *TransferRequest `cbor:"transfer,omitempty"`
	Chunk    *ChunkRequest    `cbor:"chunk,omitempty"`
}

// EncodeRequest serializes a request message as CBOR.
func EncodeRequest(r Request) ([]byte, error) {
	return cbor.Marshal(r)
}

// DecodeRequest parses a CBOR-encoded request message.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("protocol: decode request: %w", err)
	}
	return r, nil
}

// EncodeResponse serializes a chunk response as CBOR.
func EncodeResponse(r ChunkResponse) ([]byte, error) {
	return cbor.Marshal(r)
}

// DecodeResponse parses a CBOR-encoded chunk response.
func DecodeResponse(data []byte) (ChunkResponse, error) {
	var r ChunkResponse
	if err := cbor.Unmarshal(data, &r); err != nil {
		return ChunkResponse{}, fmt.Errorf("protocol: decode response: %w", err)
	}
	return r, nil
}
