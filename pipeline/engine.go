// Package pipeline implements PipelineEngine (spec §4.9, C9), the
// kernel's heart: on write it resolves policy, invokes the sentinel,
// runs the transformation pipeline forward, persists the blob, and
// indexes its manifest; on read it loads the manifest, invokes the
// sentinel, runs the pipeline in reverse, and returns the plaintext
// stream. Grounded on the teacher's tgtobj.go PUT/GET object pipelines
// (cold-get/put-object goroutines that thread a series of stream
// transforms between a backend and the target's local store) — this
// package generalizes that fixed two-stage pipeline into an arbitrary
// ordered list of Transformation plugins.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package pipeline

import (
	"bytes"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/kilnstore/kiln/access"
	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/cmn/cos"
	"github.com/kilnstore/kiln/index"
	"github.com/kilnstore/kiln/keystore"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/policy"
	"github.com/kilnstore/kiln/sentinel"
	"github.com/kilnstore/kiln/store"
	"github.com/kilnstore/kiln/transform"
)

// Clock lets tests inject a deterministic time source; the zero Engine
// uses time.Now().Unix().
type Clock func() int64

// Engine is the PipelineEngine (spec §4.9).
type Engine struct {
	Registry      *plugin.Registry
	Policy        *policy.Enforcer
	Access        *access.Control
	Index         index.MetadataIndex
	Keys          *keystore.Store
	Sentinel      *sentinel.Sentinel
	DefaultScheme string
	// DefaultKeyID is the key id a forced-encryption judgment falls back
	// to when the resolved pipeline doesn't already carry one (spec
	// §4.9 step 4: "If pipeline forced to encrypt and KeyId empty, fill
	// with current key id").
	DefaultKeyID string
	Clock        Clock
}

func (e *Engine) now() int64 {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().Unix()
}

// backend looks up the registered store.Backend advertising scheme.
func (e *Engine) backend(scheme string) (store.Backend, error) {
	for _, b := range plugin.GetPlugins[store.Backend](e.Registry, store.InterfaceTag) {
		if b.Scheme() == scheme {
			return b, nil
		}
	}
	return nil, cmn.NewValidationFailed("no storage backend registered for scheme %q", scheme)
}

// transformFor resolves a TransformationOrder step name to a concrete
// provider (spec §4.9's "Transformation resolution order"): an exact
// plugin id match from the pipeline config wins; otherwise the first
// registered plugin whose Category equals the step name, preferring
// higher QualityLevel.
func (e *Engine) transformFor(step string, cfg cmn.PipelineConfig) (transform.Transformation, error) {
	var exactID string
	switch step {
	case cmn.CategoryCompression:
		exactID = cfg.CompressionProviderID
	case cmn.CategoryEncryption:
		exactID = cfg.CryptoProviderID
	}
	if exactID != "" {
		if t, ok := plugin.GetPlugin[transform.Transformation](e.Registry, exactID); ok {
			return t, nil
		}
	}

	var best transform.Transformation
	for _, t := range plugin.GetPlugins[transform.Transformation](e.Registry, transform.InterfaceTag) {
		if t.Category() != step {
			continue
		}
		if best == nil || t.QualityLevel() > best.QualityLevel() {
			best = t
		}
	}
	if best == nil {
		return nil, cmn.NewValidationFailed("no transformation plugin registered for pipeline step %q", step)
	}
	return best, nil
}

// seekableCopy guarantees the returned reader supports Seek, buffering
// r into memory if it doesn't already (spec §4.9 step 5: "Rewind data if
// seekable; otherwise the sentinel's side effects must have occurred on
// an already-replayable buffer" — materializing a buffer up front is
// the simplest way to make that true unconditionally).
func seekableCopy(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// applyProperties interprets a sentinel Judgment's UpdateProperties map
// against well-known Manifest fields (ContentSummary, CurrentTier,
// Status:* / Replica:* governance markers), falling back to
// GovernanceTags for anything it doesn't recognize by name so a custom
// module's properties are never silently dropped.
func applyProperties(m *cmn.Manifest, props map[string]string) {
	for k, v := range props {
		switch k {
		case "ContentSummary":
			m.ContentSummary = v
		case "CurrentTier":
			switch v {
			case cmn.TierHot.String():
				m.CurrentTier = cmn.TierHot
			case cmn.TierWarm.String():
				m.CurrentTier = cmn.TierWarm
			case cmn.TierCold.String():
				m.CurrentTier = cmn.TierCold
			}
		default:
			m.SetGovernanceTag(k, v)
		}
	}
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			glog.Warningf("pipeline: error closing intermediate stream: %v", err)
		}
	}
}
