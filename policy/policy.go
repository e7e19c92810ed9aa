// Package policy implements PolicyEnforcer (spec §4.6, C6): resolving
// the effective PipelineConfig for a (container, blob) path from a
// hierarchical rule table, and translating a caller's StorageIntent
// into a concrete PipelineConfig by matching registered Transformation
// plugins. The copy-on-write pattern rules uses (atomic.Pointer swap,
// lock-free reads) is the same technique state.Journal's cache uses,
// itself grounded on the teacher's atomic *cmn.Config swap
// (ais/earlystart.go) — spec §5 calls this out explicitly for
// PolicyEnforcer: "copy-on-write map of patterns; resolution is
// lock-free".
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package policy

import (
	"sync"
	"sync/atomic"

	"github.com/kilnstore/kiln/cmn"
)

// Enforcer resolves the effective PipelineConfig for a path (spec §4.6).
type Enforcer struct {
	writeMu sync.Mutex // serializes SetPolicy/RemovePolicy swaps
	rules   atomic.Pointer[map[string]cmn.PipelineConfig]
	dflt    cmn.PipelineConfig
}

// NewEnforcer constructs an Enforcer whose global default policy is dflt.
func NewEnforcer(dflt cmn.PipelineConfig) *Enforcer {
	e := &Enforcer{dflt: dflt}
	empty := make(map[string]cmn.PipelineConfig)
	e.rules.Store(&empty)
	return e
}

// SetPolicy stores cfg under pattern, replacing any prior policy at the
// same pattern (spec §4.6). pattern is either a container id, or a
// "container/blob" or "container/folder" path.
func (e *Enforcer) SetPolicy(pattern string, cfg cmn.PipelineConfig) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	cur := e.rules.Load()
	next := make(map[string]cmn.PipelineConfig, len(*cur)+1)
	for k, v := range *cur {
		next[k] = v
	}
	next[pattern] = cfg
	e.rules.Store(&next)
}

// RemovePolicy deletes any policy stored at pattern.
func (e *Enforcer) RemovePolicy(pattern string) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	cur := e.rules.Load()
	if _, ok := (*cur)[pattern]; !ok {
		return
	}
	next := make(map[string]cmn.PipelineConfig, len(*cur))
	for k, v := range *cur {
		if k != pattern {
			next[k] = v
		}
	}
	e.rules.Store(&next)
}

// Resolve walks the hierarchy spec §4.6 defines, first hit wins: exact
// "container/blob" -> parent folders upward -> container -> global
// default. Calling Resolve twice against the same table and path
// returns equal configurations (spec §8's idempotence property) because
// rules is only ever read, never mutated in place.
func (e *Enforcer) Resolve(containerID, blobName string) cmn.PipelineConfig {
	rules := *e.rules.Load()
	path := cmn.ScopePath(containerID, blobName)

	if cfg, ok := rules[path]; ok {
		return cfg.Clone()
	}
	for _, parent := range cmn.ParentFolders(path) {
		if cfg, ok := rules[parent]; ok {
			return cfg.Clone()
		}
	}
	if cfg, ok := rules[containerID]; ok {
		return cfg.Clone()
	}
	return e.dflt.Clone()
}
