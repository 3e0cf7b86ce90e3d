// Package config handles configuration loading and validation for syndactyld.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// DHTMode controls how the transport's DHT participates in peer routing.
type DHTMode string

const (
	DHTModeAuto   DHTMode = "auto"
	DHTModeClient DHTMode = "client"
	DHTModeServer DHTMode = "server"
	DHTModeOff    DHTMode = "off"
)

// Observer is a named local directory synchronized with the mesh.
type Observer struct {
	Name         string `toml:"name"`
	Path         string `toml:"path"`
	SharedSecret string `toml:"shared_secret"`

	// RequireSigned controls whether unsigned announcements are accepted
	// for this observer when SharedSecret is configured. Defaults to true.
	RequireSigned *bool `toml:"require_signed"`
}

// Secret returns the observer's shared secret as bytes, or nil if unset.
func (o Observer) Secret() []byte {
	if o.SharedSecret == "" {
		return nil
	}
	return []byte(o.SharedSecret)
}

// RequiresSignature reports whether this observer rejects unsigned
// announcements. True whenever a secret is configured and RequireSigned
// has not been explicitly set to false.
func (o Observer) RequiresSignature() bool {
	if o.Secret() == nil {
		return false
	}
	if o.RequireSigned == nil {
		return true
	}
	return *o.RequireSigned
}

// BootstrapPeer is a known peer address used to join the overlay.
type BootstrapPeer struct {
	IP     string `toml:"ip"`
	Port   int    `toml:"port"`
	PeerID string `toml:"peer_id"`
}

// Network configures the P2P transport.
type Network struct {
	ListenAddr     string          `toml:"listen_addr"`
	Port           int             `toml:"port"`
	DHTMode        DHTMode         `toml:"dht_mode"`
	BootstrapPeers []BootstrapPeer `toml:"bootstrap_peers"`
}

// Logging configures the structured logger.
type Logging struct {
	Level    string `toml:"level"`
	Format   string `toml:"format"`
	Output   string `toml:"output"`
	FilePath string `toml:"file_path"`
}

// Config is the read-only configuration object delivered at startup.
type Config struct {
	Observers []Observer `toml:"observers"`
	Network   Network    `toml:"network"`
	Logging   Logging    `toml:"logging"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Observers: []Observer{},
		Network: Network{
			ListenAddr: "0.0.0.0",
			Port:       4001,
			DHTMode:    DHTModeAuto,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(SyndactylDir(), "config.toml")
}

// SyndactylDir returns the base syndactyl configuration directory,
// `<config_home>/syndactyl/` from the external interfaces contract.
func SyndactylDir() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, _ := os.UserHomeDir()
			appData = homeDir
		}
		return filepath.Join(appData, "syndactyl")
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			homeDir, _ := os.UserHomeDir()
			configHome = filepath.Join(homeDir, ".config")
		}
		return filepath.Join(configHome, "syndactyl")
	}
}

// KeypairPath returns the path to the daemon's transport identity key.
func KeypairPath() string {
	return filepath.Join(SyndactylDir(), "syndactyl_keypair.key")
}

// Load reads configuration from the specified path. If the file doesn't
// exist, returns default configuration (no observers configured).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// EnsureDirectories creates the syndactyl config directory and every
// configured observer's trash directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(SyndactylDir(), 0700); err != nil {
		return fmt.Errorf("config: create %s: %w", SyndactylDir(), err)
	}

	for _, obs := range c.Observers {
		trash := filepath.Join(obs.Path, ".syndactyl", "trash")
		if err := os.MkdirAll(trash, 0700); err != nil {
			return fmt.Errorf("config: create trash dir for observer %q: %w", obs.Name, err)
		}
	}

	return nil
}

// Observer looks up a configured observer by name.
func (c *Config) Observer(name string) (Observer, bool) {
	for _, obs := range c.Observers {
		if obs.Name == name {
			return obs, true
		}
	}
	return Observer{}, false
}
