package policy

import (
	"sort"
	"strings"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/transform"
)

// defaultOrder is used when no "Pipeline:Order" override is configured
// (spec §4.6).
var defaultOrder = []string{cmn.CategoryCompression, cmn.CategoryEncryption}

// Optimizer maps a caller's StorageIntent onto a concrete PipelineConfig
// by matching registered transform.Transformation plugins (spec §3,
// §4.6). It holds a *plugin.Registry rather than a snapshot so it always
// sees the currently admitted set of providers.
type Optimizer struct {
	registry *plugin.Registry
}

func NewOptimizer(registry *plugin.Registry) *Optimizer {
	return &Optimizer{registry: registry}
}

// Resolve translates intent into a PipelineConfig. configured carries
// operator overrides such as "Pipeline:Order" (a comma-separated list of
// category names); a nil or empty map uses every default.
func (o *Optimizer) Resolve(intent cmn.StorageIntent, configured map[string]string) cmn.PipelineConfig {
	cfg := cmn.PipelineConfig{TransformationOrder: order(configured)}

	if intent.Compression != cmn.CompressionNone {
		if t := o.pick(cmn.CategoryCompression, desiredQuality(intent.Compression)); t != nil {
			cfg.EnableCompression = true
			cfg.CompressionProviderID = t.ID()
		}
	}
	if intent.Security != cmn.SecurityNone {
		if t := o.pick(cmn.CategoryEncryption, desiredQuality2(intent.Security)); t != nil {
			cfg.EnableEncryption = true
			cfg.CryptoProviderID = t.ID()
		}
	}
	return cfg
}

func order(configured map[string]string) []string {
	if v, ok := configured["Pipeline:Order"]; ok && strings.TrimSpace(v) != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}
	return append([]string(nil), defaultOrder...)
}

// desiredQuality maps a requested Compression level to the QualityLevel
// a provider would ideally match (spec §4.6: "ordered by (matches user
// preference, descending quality level)").
func desiredQuality(c cmn.Compression) int {
	switch c {
	case cmn.CompressionFast:
		return 1
	case cmn.CompressionOptimal:
		return 2
	case cmn.CompressionHigh:
		return 3
	default:
		return 0
	}
}

// desiredQuality2 does the same for Security -> encryption QualityLevel;
// split out from desiredQuality since the two enums aren't related.
func desiredQuality2(s cmn.Security) int {
	switch s {
	case cmn.SecurityStandard:
		return 1
	case cmn.SecurityHigh:
		return 2
	case cmn.SecurityQuantum:
		return 3
	default:
		return 0
	}
}

// pick ranks every registered Transformation of the given category by
// (does QualityLevel match desired, descending QualityLevel) and returns
// the best match, or nil if none are registered.
func (o *Optimizer) pick(category string, desired int) transform.Transformation {
	candidates := plugin.GetPlugins[transform.Transformation](o.registry, transform.InterfaceTag)
	var matches []transform.Transformation
	for _, t := range candidates {
		if t.Category() == category {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		mi, mj := matches[i].QualityLevel() == desired, matches[j].QualityLevel() == desired
		if mi != mj {
			return mi // exact match sorts first
		}
		return matches[i].QualityLevel() > matches[j].QualityLevel()
	})
	return matches[0]
}
