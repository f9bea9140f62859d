package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	arhcrypto "github.com/cuemby/arhiv/pkg/crypto"
	"github.com/cuemby/arhiv/pkg/arherr"
)

// DefaultFileName is the config file arhiv looks for under the vault root
// when no --config flag is given.
const DefaultFileName = "arhiv.yaml"

// Config is the on-disk shape of arhiv.yaml: peers consulted by `arhiv
// sync`, KDF cost tuning, dev-mode toggle, and sync timeout overrides
// (spec.md §6 Environment, §5).
type Config struct {
	// Peers lists addresses ("host:port") of other devices to sync with.
	Peers []string `yaml:"peers"`

	// Dev selects storage-debug directories and the cheap DevScryptParams
	// cost, never to be set in a real vault (spec.md §6 Environment).
	Dev bool `yaml:"dev"`

	// Scrypt overrides the password KDF cost. Zero fields fall back to
	// arhcrypto.DefaultScryptParams (or DevScryptParams when Dev is set).
	Scrypt ScryptConfig `yaml:"scrypt"`

	// DiscoveryTimeoutSeconds and RequestTimeoutSeconds override
	// pkg/sync's defaults (8s / 30s) when non-zero.
	DiscoveryTimeoutSeconds int `yaml:"discovery_timeout_seconds"`
	RequestTimeoutSeconds   int `yaml:"request_timeout_seconds"`
}

// ScryptConfig mirrors arhcrypto.ScryptParams for YAML decoding; zero means
// "use the built-in default for this field."
type ScryptConfig struct {
	N int `yaml:"n"`
	R int `yaml:"r"`
	P int `yaml:"p"`
}

// Default returns a Config with no peers and every timeout/KDF field at its
// built-in default.
func Default() Config {
	return Config{}
}

// Load reads and parses a YAML config file at path. A missing file is not
// an error: it returns Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, arherr.Wrap(arherr.KindIO, err, "read config file %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, arherr.Wrap(arherr.KindCorruption, err, "parse config file %s", path)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ScryptParams resolves this config's KDF cost, falling back to the
// dev or production default for any zero field.
func (c Config) ScryptParams() arhcrypto.ScryptParams {
	def := arhcrypto.DefaultScryptParams
	if c.Dev {
		def = arhcrypto.DevScryptParams
	}
	params := def
	if c.Scrypt.N != 0 {
		params.N = c.Scrypt.N
	}
	if c.Scrypt.R != 0 {
		params.R = c.Scrypt.R
	}
	if c.Scrypt.P != 0 {
		params.P = c.Scrypt.P
	}
	return params
}

// DiscoveryTimeout resolves the configured discovery dial timeout, or zero
// to mean "use pkg/sync's built-in default."
func (c Config) DiscoveryTimeout() time.Duration {
	if c.DiscoveryTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.DiscoveryTimeoutSeconds) * time.Second
}

// RequestTimeout resolves the configured per-request timeout, or zero to
// mean "use pkg/sync's built-in default."
func (c Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
