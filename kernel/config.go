// Package kernel implements the Kernel façade (spec §4.12, C12): boot
// sequence, core-role fallback substitution, and the narrow public API
// spec §6 names. Grounded on the teacher's ais/daemon.go initDaemon/Run
// (config load, rungroup assembly, boot-complete logging), generalized
// from a two-role (proxy/target) cluster daemon into a single-process
// kernel that wires together the rest of this repository's packages.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package kernel

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/kilnstore/kiln/daemon"
	"github.com/kilnstore/kiln/state"
	"github.com/kilnstore/kiln/store"
)

// S3Config, GSConfig, AZConfig, and NetStoreConfig configure the
// optional cloud/network StorageBackend extensions (SPEC_FULL.md §4).
// A nil pointer means "don't register".
type S3Config struct {
	Region string `yaml:"region"`
}

type GSConfig struct{}

type AZConfig struct {
	Account string `yaml:"account"`
	Key     string `yaml:"key"`
}

type NetStoreConfig struct {
	BaseURL          string        `yaml:"base_url"`
	MaxRetries       int           `yaml:"max_retries"`
	BaseBackoff      time.Duration `yaml:"base_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	OpTimeout        time.Duration `yaml:"op_timeout"`
}

// MirrorConfig layers a mirror.Backend over two already-registered
// backends, named by scheme. Both must be configured elsewhere in Config
// (e.g. LocalStoragePath for "file" and S3 for "s3") or Boot skips it
// with a warning rather than failing outright.
type MirrorConfig struct {
	PrimaryScheme   string `yaml:"primary_scheme"`
	SecondaryScheme string `yaml:"secondary_scheme"`
}

// Config is kiln's operator-facing boot configuration (SPEC_FULL.md §2):
// hand-edited, loaded once at startup from YAML, and never treated as
// wire metadata the way a Manifest or PipelineConfig is. Mirrors the
// shape of the teacher's cmn.Config (a flat struct of named sections
// loaded by cmn.LoadConfig), generalized to this kernel's own roles.
type Config struct {
	RootPath string `yaml:"root_path"`
	// Mode is passed through to plugin.HandshakeRequest, e.g. "laptop"
	// or "cluster" — advisory metadata only; nothing in this package
	// branches on it beyond handshake bookkeeping.
	Mode string `yaml:"mode"`

	IndexBackend string `yaml:"index_backend"` // "memory" (default) or "buntdb"
	IndexPath    string `yaml:"index_path"`

	ACLPath        string `yaml:"acl_path"`
	KeyStorePath   string `yaml:"keystore_path"`
	AdminPrincipal string `yaml:"admin_principal"`

	DisableGovernance bool `yaml:"disable_governance"`

	LocalStoragePath     string `yaml:"local_storage_path"`
	SegmentedStoragePath string `yaml:"segmented_storage_path"`

	S3       *S3Config       `yaml:"s3,omitempty"`
	GS       *GSConfig       `yaml:"gs,omitempty"`
	AZ       *AZConfig       `yaml:"az,omitempty"`
	NetStore *NetStoreConfig `yaml:"netstore,omitempty"`
	Mirror   *MirrorConfig   `yaml:"mirror,omitempty"`

	// ExtraBackends lets a programmatic caller hand Boot an
	// already-constructed store.Backend (e.g. one wired up with
	// handles this struct can't express in YAML). Never populated by
	// LoadConfig itself.
	ExtraBackends []store.Backend `yaml:"-"`

	ScanInterval        time.Duration `yaml:"scan_interval"`
	VacuumInterval      time.Duration `yaml:"vacuum_interval"`
	CompactionThreshold int           `yaml:"compaction_threshold"`

	DefaultPipelineOrder []string `yaml:"default_pipeline_order"`
}

// LoadConfig reads and parses a YAML config file, applying defaults for
// any zero-valued field that needs one. Loading the file from a CLI flag
// or HTTP admin surface is external per spec §1 Non-goals; this function
// only covers "read the file, parse it, default it."
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = daemon.DefaultScanInterval
	}
	if c.VacuumInterval <= 0 {
		c.VacuumInterval = daemon.DefaultVacuumInterval
	}
	if c.CompactionThreshold <= 0 {
		c.CompactionThreshold = state.DefaultCompactThreshold
	}
	if c.IndexBackend == "" {
		c.IndexBackend = "memory"
	}
}
