// Package config holds OPERATOR-LEVEL configuration for a Promethios
// learning node.
//
// This is infrastructure config set by whoever deploys the process: data
// directory, snapshot encryption key, listen address, cycle schedule.
// Set via env vars (PROMETHIOS_*) or config file. Behavioral tuning of
// the learning loop itself (thresholds, generators, trust policy) lives
// in the learning policy file loaded by this package's policy loader.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/wesheets/promethios-sub018/internal/cryptoutil"
)

// Viper keys. Each maps to an env var with the PROMETHIOS_ prefix
// (e.g. "snapshot_key" → PROMETHIOS_SNAPSHOT_KEY) and to a YAML field
// in promethios.config.yaml.
const (
	KeyDataDir       = "data_dir"
	KeySnapshotKey   = "snapshot_key"
	KeyListenAddr    = "listen_addr"
	KeyAPIKey        = "api_key"
	KeyCycleSchedule = "cycle_schedule"
	KeyPolicyFile    = "policy_file"
	KeyOtelEnabled   = "otel_enabled"
	KeyVerifierURL   = "verifier_url"
)

// Defaults that do NOT involve crypto material. The snapshot key has no
// baked-in default — when unset we derive a per-machine fallback and
// warn loudly.
const (
	DefaultListenAddr    = "127.0.0.1:8090"
	DefaultCycleSchedule = "*/15 * * * *"
	DefaultPolicyFile    = "learning.policy.yaml"
)

// Config holds resolved operator-level configuration for one process.
type Config struct {
	DataDir       string // Base directory for all state (~/.promethios)
	SnapshotKey   string // NaCl secretbox key for sealed snapshots (32 bytes or 64 hex chars)
	ListenAddr    string // Ops HTTP API bind address
	APIKey        string // Bearer token for the ops API; empty disables auth
	CycleSchedule string // Cron spec for scheduled learning cycles
	PolicyFile    string // Learning policy filename, resolved under DataDir when relative
	OtelEnabled   bool   // Emit OpenTelemetry traces and metrics
	VerifierURL   string // External belief-trace verifier endpoint; empty uses the local verifier

	usingDefaultSnapshotKey bool
}

// UsingDefaultSnapshotKey reports whether the snapshot key fell back to
// a derived default. Commands should warn when this is the case.
func (c *Config) UsingDefaultSnapshotKey() bool {
	return c.usingDefaultSnapshotKey
}

// MemoryDBPath returns the full path to the learning memory database.
func (c *Config) MemoryDBPath() string {
	return filepath.Join(c.DataDir, "memory.db")
}

// AnalyticsDBPath returns the full path to the confidence analytics
// database.
func (c *Config) AnalyticsDBPath() string {
	return filepath.Join(c.DataDir, "analytics.db")
}

// PolicyPath resolves the learning policy file, placing relative names
// under the data directory.
func (c *Config) PolicyPath() string {
	if filepath.IsAbs(c.PolicyFile) {
		return c.PolicyFile
	}
	return filepath.Join(c.DataDir, c.PolicyFile)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKey logs a warning when the snapshot key is not
// explicitly set. Suppressed when PROMETHIOS_QUICKSTART=1 or true.
func (c *Config) WarnIfDefaultKey() {
	if isQuickstart() {
		return
	}
	if c.usingDefaultSnapshotKey {
		log.Warn().Msg("Using generated default PROMETHIOS_SNAPSHOT_KEY — set via env var or config file for production")
	}
}

func isQuickstart() bool {
	v := os.Getenv("PROMETHIOS_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func init() {
	viper.SetEnvPrefix("PROMETHIOS")
	viper.AutomaticEnv()
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyCycleSchedule, DefaultCycleSchedule)
	viper.SetDefault(KeyPolicyFile, DefaultPolicyFile)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		SnapshotKey:   viper.GetString(KeySnapshotKey),
		ListenAddr:    viper.GetString(KeyListenAddr),
		APIKey:        viper.GetString(KeyAPIKey),
		CycleSchedule: viper.GetString(KeyCycleSchedule),
		PolicyFile:    viper.GetString(KeyPolicyFile),
		OtelEnabled:   viper.GetBool(KeyOtelEnabled),
		VerifierURL:   viper.GetString(KeyVerifierURL),
	}

	if cfg.SnapshotKey == "" {
		cfg.SnapshotKey = deriveDefaultKey(cfg.DataDir, "snapshot-sealing")
		cfg.usingDefaultSnapshotKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promethios"
	}
	return filepath.Join(home, ".promethios")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from
// the data directory path and a salt. NOT cryptographically strong; it
// exists so a fresh install runs out of the box while still sealing
// snapshots with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("promethios:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSnapshotKey(c.SnapshotKey); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.CycleSchedule == "" {
		return fmt.Errorf("cycle_schedule must not be empty")
	}
	return nil
}

// validateSnapshotKey accepts either 32 raw bytes or 64 hex characters.
func validateSnapshotKey(key string) error {
	n := len(key)
	if n == 32 {
		return nil
	}
	if n == 64 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return fmt.Errorf("snapshot_key hex must decode to 32 bytes: %w", err)
		}
		return nil
	}
	return fmt.Errorf("snapshot_key must be exactly 32 bytes or 64 hex characters (got %d); set PROMETHIOS_SNAPSHOT_KEY", n)
}
