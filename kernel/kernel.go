package kernel

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/klauspost/compress/zstd"

	"github.com/kilnstore/kiln/access"
	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/daemon"
	"github.com/kilnstore/kiln/hk"
	"github.com/kilnstore/kiln/index"
	"github.com/kilnstore/kiln/index/buntidx"
	"github.com/kilnstore/kiln/index/memidx"
	"github.com/kilnstore/kiln/keystore"
	"github.com/kilnstore/kiln/pipeline"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/policy"
	"github.com/kilnstore/kiln/sentinel"
	"github.com/kilnstore/kiln/sentinel/modules"
	"github.com/kilnstore/kiln/store"
	"github.com/kilnstore/kiln/store/cloud"
	"github.com/kilnstore/kiln/store/local"
	"github.com/kilnstore/kiln/store/mirror"
	"github.com/kilnstore/kiln/store/netstore"
	"github.com/kilnstore/kiln/store/ram"
	"github.com/kilnstore/kiln/store/segmented"
	"github.com/kilnstore/kiln/transform"
)

const systemPrincipal = "kiln-kernel"

const (
	sentinelDaemonJob = "kernel.sentinel-daemon"
	dataVacuumJob     = "kernel.data-vacuum"
)

// Kernel is the assembled system (spec §4.12): every core role resolved
// (with fallbacks substituted where the operator didn't configure one),
// the pipeline engine wired against them, and the two background daemons
// running. Kernel's own exported methods are the entire public surface
// spec §6 names; nothing else in this repository is meant to be driven
// directly by an external caller.
type Kernel struct {
	Registry *plugin.Registry
	Policy   *policy.Enforcer
	Access   *access.Control
	Index    index.MetadataIndex
	Keys     *keystore.Store
	Sentinel *sentinel.Sentinel
	Pipeline *pipeline.Engine

	SentinelDaemon *daemon.SentinelDaemon
	Vacuum         *daemon.DataVacuum

	mu      sync.Mutex
	created map[string]bool
}

// Boot assembles a Kernel from cfg: init the plugin registry, load
// storage/transform providers, resolve the four core roles with safe
// fallbacks, start the background daemons, and log boot completion
// (spec §4.12's boot sequence, verbatim).
func Boot(ctx context.Context, cfg Config) (*Kernel, error) {
	cfg.applyDefaults()
	reg := plugin.NewRegistry()
	req := plugin.HandshakeRequest{
		KernelID:        cmn.GenShortID(),
		ProtocolVersion: 1,
		Mode:            cfg.Mode,
		RootPath:        cfg.RootPath,
	}

	if err := loadStorageBackends(reg, req, cfg); err != nil {
		return nil, err
	}
	loadTransformPlugins(reg, req)

	idx, err := resolveIndex(cfg)
	if err != nil {
		return nil, err
	}

	acl, err := resolveAccess(cfg)
	if err != nil {
		return nil, err
	}

	ks, err := resolveKeyStore(cfg)
	if err != nil {
		return nil, err
	}

	sent := resolveSentinel(cfg, idx)

	pol := policy.NewEnforcer(cmn.PipelineConfig{TransformationOrder: cfg.DefaultPipelineOrder})

	defaultScheme := cmn.SchemeMem
	if cfg.LocalStoragePath != "" {
		defaultScheme = cmn.SchemeFile
	}

	defaultKeyID, _, err := ks.Generate()
	if err != nil {
		return nil, fmt.Errorf("kernel: minting default key: %w", err)
	}

	eng := &pipeline.Engine{
		Registry:      reg,
		Policy:        pol,
		Access:        acl,
		Index:         idx,
		Keys:          ks,
		Sentinel:      sent,
		DefaultScheme: defaultScheme,
		DefaultKeyID:  defaultKeyID,
	}

	k := &Kernel{
		Registry: reg,
		Policy:   pol,
		Access:   acl,
		Index:    idx,
		Keys:     ks,
		Sentinel: sent,
		Pipeline: eng,
		created:  make(map[string]bool),
	}

	sysCtx := cmn.SecurityContext{UserID: systemPrincipal}
	k.SentinelDaemon = &daemon.SentinelDaemon{
		Index:         idx,
		Sentinel:      sent,
		Pipeline:      eng,
		ScanInterval:  cfg.ScanInterval,
		SystemContext: sysCtx,
	}
	k.Vacuum = &daemon.DataVacuum{
		Index:    idx,
		Backends: plugin.GetPlugins[store.Backend](reg, store.InterfaceTag),
		Interval: cfg.VacuumInterval,
	}

	k.SentinelDaemon.Start(ctx, sentinelDaemonJob, cfg.ScanInterval)
	k.Vacuum.Start(ctx, dataVacuumJob, cfg.VacuumInterval)

	glog.Infof("[Kernel] Boot Complete")
	return k, nil
}

// Shutdown stops both background daemons and releases durable-state
// handles. It does not cancel in-flight StoreBlob/GetBlob/Delete calls;
// callers own draining those before calling Shutdown.
func (k *Kernel) Shutdown() {
	hk.Unreg(sentinelDaemonJob)
	hk.Unreg(dataVacuumJob)
	if err := k.Access.Close(); err != nil {
		glog.Warningf("kernel: closing access control: %v", err)
	}
	if err := k.Keys.Close(); err != nil {
		glog.Warningf("kernel: closing keystore: %v", err)
	}
	if closer, ok := k.Index.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			glog.Warningf("kernel: closing index: %v", err)
		}
	}
}

func loadStorageBackends(reg *plugin.Registry, req plugin.HandshakeRequest, cfg Config) error {
	configuredAny := false

	if _, err := reg.LoadOne(req, ram.Factory()); err != nil {
		return fmt.Errorf("kernel: registering ram backend: %w", err)
	}

	if cfg.LocalStoragePath != "" {
		configuredAny = true
		if _, err := reg.LoadOne(req, local.Factory(cfg.LocalStoragePath)); err != nil {
			return fmt.Errorf("kernel: registering local backend: %w", err)
		}
	}
	if cfg.SegmentedStoragePath != "" {
		configuredAny = true
		if _, err := reg.LoadOne(req, segmented.Factory(cfg.SegmentedStoragePath)); err != nil {
			return fmt.Errorf("kernel: registering segmented backend: %w", err)
		}
	}
	if cfg.S3 != nil {
		configuredAny = true
		if _, err := reg.LoadOne(req, cloud.FactoryS3(cfg.S3.Region)); err != nil {
			return fmt.Errorf("kernel: registering s3 backend: %w", err)
		}
	}
	if cfg.GS != nil {
		configuredAny = true
		if _, err := reg.LoadOne(req, cloud.FactoryGS()); err != nil {
			return fmt.Errorf("kernel: registering gs backend: %w", err)
		}
	}
	if cfg.AZ != nil {
		configuredAny = true
		if _, err := reg.LoadOne(req, cloud.FactoryAZ(cloud.AZConfig{Account: cfg.AZ.Account, Key: cfg.AZ.Key})); err != nil {
			return fmt.Errorf("kernel: registering az backend: %w", err)
		}
	}
	if cfg.NetStore != nil {
		configuredAny = true
		netCfg := netstore.Config{
			BaseURL:          cfg.NetStore.BaseURL,
			MaxRetries:       cfg.NetStore.MaxRetries,
			BaseBackoff:      cfg.NetStore.BaseBackoff,
			MaxBackoff:       cfg.NetStore.MaxBackoff,
			BreakerThreshold: cfg.NetStore.BreakerThreshold,
			BreakerCooldown:  cfg.NetStore.BreakerCooldown,
			OpTimeout:        cfg.NetStore.OpTimeout,
		}
		if _, err := reg.LoadOne(req, netstoreFactory(netCfg)); err != nil {
			return fmt.Errorf("kernel: registering netstore backend: %w", err)
		}
	}
	for i, b := range cfg.ExtraBackends {
		configuredAny = true
		if _, err := reg.LoadOne(req, extraBackendFactory(b, i)); err != nil {
			return fmt.Errorf("kernel: registering extra backend %d: %w", i, err)
		}
	}
	if cfg.Mirror != nil {
		primary, okP := lookupBackend(reg, cfg.Mirror.PrimaryScheme)
		secondary, okS := lookupBackend(reg, cfg.Mirror.SecondaryScheme)
		if !okP || !okS {
			glog.Warningf("kernel: mirror backend requested but primary=%q (found=%t) secondary=%q (found=%t); skipping",
				cfg.Mirror.PrimaryScheme, okP, cfg.Mirror.SecondaryScheme, okS)
		} else {
			configuredAny = true
			if _, err := reg.LoadOne(req, mirrorFactory(primary, secondary)); err != nil {
				return fmt.Errorf("kernel: registering mirror backend: %w", err)
			}
		}
	}

	if !configuredAny {
		glog.Warningf("kernel: no durable storage backend configured, falling back to in-memory RAM (data does not survive restart)")
	}
	return nil
}

func lookupBackend(reg *plugin.Registry, scheme string) (store.Backend, bool) {
	for _, b := range plugin.GetPlugins[store.Backend](reg, store.InterfaceTag) {
		if b.Scheme() == scheme {
			return b, true
		}
	}
	return nil, false
}

// mirrorFactory and netstoreFactory adapt backends that need already-
// constructed dependencies (mirror) or an inline Config value (netstore)
// into plugin.Factory, since neither store/mirror nor store/netstore
// exports one of its own the way the zero-dependency backends do.
func mirrorFactory(primary, secondary store.Backend) plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		b := mirror.New(primary, secondary)
		resp := plugin.HandshakeResponse{
			ID:            "store.mirror",
			Name:          "mirror storage backend",
			Version:       "1.0.0",
			Category:      plugin.CategoryStorage,
			Interfaces:    []string{store.InterfaceTag},
			CapabilityIDs: []string{cmn.SchemeMirror},
			ReadyState:    plugin.Ready,
		}
		return resp, b, nil
	})
}

func netstoreFactory(cfg netstore.Config) plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		b := netstore.New(cfg)
		resp := plugin.HandshakeResponse{
			ID:            "store.net",
			Name:          "network (RPC) storage backend",
			Version:       "1.0.0",
			Category:      plugin.CategoryStorage,
			Interfaces:    []string{store.InterfaceTag},
			CapabilityIDs: []string{cmn.SchemeNet},
			ReadyState:    plugin.Ready,
		}
		return resp, b, nil
	})
}

func extraBackendFactory(b store.Backend, index int) plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		resp := plugin.HandshakeResponse{
			ID:            fmt.Sprintf("store.extra.%s.%d", b.Scheme(), index),
			Name:          fmt.Sprintf("operator-supplied %s backend", b.Scheme()),
			Version:       "1.0.0",
			Category:      plugin.CategoryStorage,
			Interfaces:    []string{store.InterfaceTag},
			CapabilityIDs: []string{fmt.Sprintf("%s.%d", b.Scheme(), index)},
			ReadyState:    plugin.Ready,
		}
		return resp, b, nil
	})
}

func loadTransformPlugins(reg *plugin.Registry, req plugin.HandshakeRequest) {
	lz4 := transform.NewLZ4("compression.lz4")
	if _, err := reg.LoadOne(req, transform.Factory(lz4, "compression.lz4", "lz4 compression", "1.0.0", []string{"Compression:lz4"})); err != nil {
		glog.Warningf("kernel: registering lz4 transform: %v", err)
	}
	zstdProvider := transform.NewZstd("compression.zstd", zstd.SpeedDefault, 2)
	if _, err := reg.LoadOne(req, transform.Factory(zstdProvider, "compression.zstd", "zstd compression", "1.0.0", []string{"Compression:zstd"})); err != nil {
		glog.Warningf("kernel: registering zstd transform: %v", err)
	}
	enc := transform.NewEncryption("encryption.chacha20poly1305")
	if _, err := reg.LoadOne(req, transform.Factory(enc, "encryption.chacha20poly1305", "chacha20-poly1305 encryption", "1.0.0", []string{"Encryption:chacha20poly1305"})); err != nil {
		glog.Warningf("kernel: registering encryption transform: %v", err)
	}
}

func resolveIndex(cfg Config) (index.MetadataIndex, error) {
	if cfg.IndexBackend == "buntdb" && cfg.IndexPath != "" {
		idx, err := buntidx.Open(cfg.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("kernel: opening buntdb index: %w", err)
		}
		return idx, nil
	}
	glog.Warningf("kernel: no durable index configured, falling back to in-memory index (non-durable)")
	return memidx.New(), nil
}

func resolveAccess(cfg Config) (*access.Control, error) {
	if cfg.ACLPath != "" {
		acl, err := access.OpenWithThreshold(cfg.ACLPath, cfg.CompactionThreshold)
		if err != nil {
			return nil, fmt.Errorf("kernel: opening acl journal: %w", err)
		}
		if cfg.AdminPrincipal != "" {
			acl.AdminPrincipal = cfg.AdminPrincipal
		}
		return acl, nil
	}
	glog.Warningf("kernel: no acl journal configured, falling back to an open-permissive ACL (every request is allowed)")
	dir, err := os.MkdirTemp("", "kiln-acl-")
	if err != nil {
		return nil, err
	}
	acl, err := access.Open(filepath.Join(dir, "acl.journal"))
	if err != nil {
		return nil, err
	}
	acl.OpenPermissive = true
	return acl, nil
}

func resolveKeyStore(cfg Config) (*keystore.Store, error) {
	if cfg.KeyStorePath != "" {
		return keystore.OpenWithThreshold(cfg.KeyStorePath, cfg.CompactionThreshold)
	}
	if cfg.RootPath != "" {
		return keystore.OpenWithThreshold(filepath.Join(cfg.RootPath, "KeyStore", "keys.journal"), cfg.CompactionThreshold)
	}
	glog.Warningf("kernel: no keystore path configured, falling back to an ephemeral keystore (keys do not survive restart)")
	dir, err := os.MkdirTemp("", "kiln-keystore-")
	if err != nil {
		return nil, err
	}
	return keystore.Open(filepath.Join(dir, "keys.journal"))
}

func resolveSentinel(cfg Config, idx index.MetadataIndex) *sentinel.Sentinel {
	if cfg.DisableGovernance {
		glog.Warningf("kernel: governance disabled by config, falling back to a passive sentinel")
		return sentinel.Passive()
	}
	return sentinel.New(
		modules.PIIModule{},
		modules.NewGDPRModule(),
		modules.AutoTagModule{},
		modules.CompressionAdvisorModule{},
		modules.NewIntegrityModule(),
		modules.NewDedupModule(idx),
		modules.RelationshipModule{},
		modules.SentimentModule{},
		modules.SteganographyModule{},
	)
}

// CreateContainer provisions containerID, granting sec's caller
// FullControl over it and, when encrypt or compress is requested,
// resolving a starting PipelineConfig via policy.Optimizer and
// installing it as that container's policy (spec §6).
func (k *Kernel) CreateContainer(sec cmn.SecurityContext, containerID string, encrypt, compress bool) error {
	if err := cmn.ValidateContainerID(containerID); err != nil {
		return err
	}

	k.mu.Lock()
	if k.created[containerID] {
		k.mu.Unlock()
		return cmn.NewConflict("container %q already exists", containerID)
	}
	k.created[containerID] = true
	k.mu.Unlock()

	if err := k.Access.CreateScope(containerID, sec.UserID); err != nil {
		return err
	}

	intent := cmn.StorageIntent{}
	if compress {
		intent.Compression = cmn.CompressionOptimal
	}
	if encrypt {
		intent.Security = cmn.SecurityStandard
	}
	if encrypt || compress {
		optimizer := policy.NewOptimizer(k.Registry)
		cfg := optimizer.Resolve(intent, nil)
		if cfg.EnableEncryption && cfg.KeyID == "" {
			keyID, _, err := k.Keys.Generate()
			if err != nil {
				return fmt.Errorf("kernel: minting container key: %w", err)
			}
			cfg.KeyID = keyID
		}
		k.Policy.SetPolicy(containerID, cfg)
	}
	return nil
}

// GrantAccess lets a principal who already holds FullControl over
// containerID extend level to another principal (spec §6). sec
// identifies the granter, not the grantee.
func (k *Kernel) GrantAccess(sec cmn.SecurityContext, containerID, principal string, level access.Permission) error {
	if !k.Access.HasAccess(containerID, sec.UserID, access.FullControl) {
		return cmn.NewUnauthorized("%s: %s lacks FullControl to grant access on container %s", containerID, sec.UserID, containerID)
	}
	return k.Access.SetPermissions(containerID, principal, level, 0)
}

// StoreBlob, GetBlob, and Delete are thin delegations to the pipeline
// engine — the façade's job is assembly and the narrow surface, not
// re-implementing C9's semantics.
func (k *Kernel) StoreBlob(ctx context.Context, sec cmn.SecurityContext, containerID, blobName string, data io.Reader) (string, error) {
	return k.Pipeline.StoreBlob(ctx, sec, containerID, blobName, data)
}

func (k *Kernel) GetBlob(ctx context.Context, sec cmn.SecurityContext, containerID, blobName string) (io.ReadCloser, error) {
	return k.Pipeline.GetBlob(ctx, sec, containerID, blobName)
}

func (k *Kernel) Delete(ctx context.Context, sec cmn.SecurityContext, containerID, blobName string) error {
	return k.Pipeline.Delete(ctx, sec, containerID, blobName)
}

// Search proxies to the MetadataIndex (spec §6). sec is required to
// carry a non-empty UserID; fine-grained per-result ACL filtering is
// left to the caller inspecting each returned manifest, same as the
// teacher's own list-objects APIs return unfiltered pages for the
// caller's bucket-level permission to have already gated.
func (k *Kernel) Search(sec cmn.SecurityContext, query string, vector []float32, limit int) ([]string, error) {
	if sec.UserID == "" {
		return nil, cmn.NewUnauthorized("search requires an authenticated caller")
	}
	return k.Index.Search(query, vector, limit)
}

// GetPlugin and GetPlugins expose typed capability lookup over the
// kernel's plugin registry (spec §6's GetPlugin<I>/GetPlugins<I>). Go
// has no generic methods, so these are free functions taking *Kernel;
// iface is the same interface tag a provider advertised at handshake
// (store.InterfaceTag, transform.InterfaceTag, ...).
func GetPlugin[T any](k *Kernel, id string) (T, bool) {
	return plugin.GetPlugin[T](k.Registry, id)
}

func GetPlugins[T any](k *Kernel, iface string) []T {
	return plugin.GetPlugins[T](k.Registry, iface)
}
