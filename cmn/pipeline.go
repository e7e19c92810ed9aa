package cmn

// Category names used both as PipelineConfig.TransformationOrder steps and
// as plugin.Plugin.Category tags for Transformation plugins (spec §3, §4.6).
const (
	CategoryCompression = "Compression"
	CategoryEncryption  = "Encryption"
)

// PipelineConfig is immutable once attached to a Manifest (spec §3): a
// read must replay the pipeline recorded on its own manifest, never the
// kernel's current policy.
type PipelineConfig struct {
	TransformationOrder   []string `json:"transformation_order"`
	EnableCompression     bool     `json:"enable_compression"`
	EnableEncryption      bool     `json:"enable_encryption"`
	CompressionProviderID string   `json:"compression_provider_id,omitempty"`
	CryptoProviderID      string   `json:"crypto_provider_id,omitempty"`
	KeyID                 string   `json:"key_id,omitempty"`
}

func (p PipelineConfig) Clone() PipelineConfig {
	cp := p
	if p.TransformationOrder != nil {
		cp.TransformationOrder = append([]string(nil), p.TransformationOrder...)
	}
	return cp
}

func (p PipelineConfig) Equal(o PipelineConfig) bool {
	if p.EnableCompression != o.EnableCompression ||
		p.EnableEncryption != o.EnableEncryption ||
		p.CompressionProviderID != o.CompressionProviderID ||
		p.CryptoProviderID != o.CryptoProviderID ||
		p.KeyID != o.KeyID ||
		len(p.TransformationOrder) != len(o.TransformationOrder) {
		return false
	}
	for i := range p.TransformationOrder {
		if p.TransformationOrder[i] != o.TransformationOrder[i] {
			return false
		}
	}
	return true
}

// Validate enforces the spec §3 invariant: encryption enabled implies a
// non-empty key id. The key's actual existence in the key store is
// checked by the caller (pipeline.Engine), which has a keystore handle;
// this package intentionally doesn't depend on keystore.
func (p PipelineConfig) Validate() error {
	if p.EnableEncryption && p.KeyID == "" {
		return NewValidationFailed("pipeline enables encryption but KeyId is empty")
	}
	return nil
}

// Security levels a caller's StorageIntent may request (spec §3).
type Security int

const (
	SecurityNone Security = iota
	SecurityStandard
	SecurityHigh
	SecurityQuantum
)

// Compression levels a caller's StorageIntent may request (spec §3).
type Compression int

const (
	CompressionNone Compression = iota
	CompressionFast
	CompressionOptimal
	CompressionHigh
)

// Availability levels a caller's StorageIntent may request (spec §3).
// PolicyEnforcer doesn't yet route Availability into backend selection
// beyond the mirror/cloud backends already registered per container;
// see SPEC_FULL.md Open Question 4 (federation/placement is future work).
type Availability int

const (
	AvailabilitySingle Availability = iota
	AvailabilityRedundant
	AvailabilityGeoRedundant
	AvailabilityGlobal
)

// StorageIntent is the caller's SLA request, translated by
// policy.Optimizer into a concrete PipelineConfig (spec §3).
type StorageIntent struct {
	Security     Security
	Compression  Compression
	Availability Availability
}
