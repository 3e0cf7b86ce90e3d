package transport

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
)

// LoadOrGenerateIdentity reads the node's Ed25519 identity key from path,
// generating and persisting a new one on first run. The file is written
// with owner-only permissions since it is the node's long-term identity.
func LoadOrGenerateIdentity(path string) (libp2pcrypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := libp2pcrypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("transport: parse identity key %s: %w", path, err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("transport: read identity key %s: %w", path, err)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("transport: generate identity key: %w", err)
	}

	marshaled, err := libp2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal identity key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("transport: create identity key dir: %w", err)
	}
	if err := os.WriteFile(path, marshaled, 0o600); err != nil {
		return nil, fmt.Errorf("transport: write identity key %s: %w", path, err)
	}

	return priv, nil
}
