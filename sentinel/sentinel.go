// Package sentinel implements the governance evaluator spec §4.8 (C8)
// describes: Sentinel.Evaluate(ctx) -> Judgment, fanning out to a
// pluggable set of Modules and merging their verdicts left-to-right.
// Concrete modules live in sentinel/modules. Grounded on the teacher's
// xaction/xreg extension-point pattern (a fixed pipeline stage that
// fans out to a registered, pluggable set of handlers and folds their
// results), generalized here from aistore's xaction registry to
// governance modules.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package sentinel

import (
	"context"
	"io"

	"github.com/golang/glog"

	"github.com/kilnstore/kiln/cmn"
)

// Trigger is the event kind that caused a sentinel evaluation (spec §4.8).
type Trigger int

const (
	OnWrite Trigger = iota
	OnRead
	OnSchedule
	OnDelete
)

func (t Trigger) String() string {
	switch t {
	case OnWrite:
		return "OnWrite"
	case OnRead:
		return "OnRead"
	case OnSchedule:
		return "OnSchedule"
	case OnDelete:
		return "OnDelete"
	default:
		return "Unknown"
	}
}

// Context is the evaluation context handed to every Module (spec §4.8).
// DataStream is nil for metadata-only evaluations (the default on read,
// per spec §4.9 step 3); when non-nil it MUST be an io.Seeker for a
// module that consumes it, so Evaluate can rewind every module back to
// the caller's mark (spec §4.8's stream-reset invariant).
type Context struct {
	Trigger     Trigger
	Metadata    *cmn.Manifest
	DataStream  io.Reader
	UserContext cmn.SecurityContext
}

// Severity orders Alert.Severity for max-aggregation across modules.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// Alert is a governance finding surfaced to the caller on a block, or
// attached informationally otherwise.
type Alert struct {
	Code     string
	Severity Severity
	Message  string
}

// Judgment is a single Module's (or the merged Sentinel's) verdict
// (spec §4.8).
type Judgment struct {
	InterventionRequired bool
	BlockOperation       bool
	EnforcePipeline      *cmn.PipelineConfig
	AddTags              map[string]string
	UpdateProperties     map[string]string
	Alert                *Alert
	HealWithReplicaID    string
}

// Module is a single pluggable governance check (spec §4.8's "Composed
// of pluggable Modules"). A module that scans DataStream sets its own
// size bound (e.g. IntegrityModule.MaxScanBytes, MaxPIIScanBytes in
// sentinel/modules).
type Module interface {
	Name() string
	Analyze(ctx context.Context, sctx Context) (Judgment, error)
}

// Sentinel fans out to its registered modules and merges their
// judgments (spec §4.8).
type Sentinel struct {
	modules []Module
}

// New builds a Sentinel over the given modules, evaluated in order.
func New(modules ...Module) *Sentinel {
	return &Sentinel{modules: modules}
}

// Passive returns a Sentinel with no modules: every evaluation yields a
// zero Judgment. This is the kernel's fallback when no Governance
// plugin admits (spec §4.12).
func Passive() *Sentinel { return New() }

// Evaluate runs every module against sctx and merges their Judgments
// left-to-right (spec §4.8: Block is sticky, tag sets union, property
// updates last-writer-wins, EnforcePipeline first non-nil wins, alerts
// aggregate by severity max). A module that returns an io.Seeker-backed
// DataStream has its read position restored to the caller's mark before
// the next module runs (spec §4.8's stream-reset invariant); a module
// that errors is logged and treated as a no-op Judgment rather than
// aborting the whole evaluation, since background governance MUST NOT
// propagate (spec §7).
func (s *Sentinel) Evaluate(ctx context.Context, sctx Context) (Judgment, error) {
	var merged Judgment

	seeker, canSeek := sctx.DataStream.(io.Seeker)
	var mark int64
	if canSeek {
		mark, _ = seeker.Seek(0, io.SeekCurrent)
	}

	for _, m := range s.modules {
		j, err := m.Analyze(ctx, sctx)
		if canSeek {
			if _, seekErr := seeker.Seek(mark, io.SeekStart); seekErr != nil {
				glog.Errorf("sentinel: module %s left stream unseekable to mark: %v", m.Name(), seekErr)
			}
		}
		if err != nil {
			glog.Errorf("sentinel: module %s failed: %v", m.Name(), err)
			continue
		}
		merged = merge(merged, j)
	}
	return merged, nil
}

func merge(acc, j Judgment) Judgment {
	acc.InterventionRequired = acc.InterventionRequired || j.InterventionRequired
	acc.BlockOperation = acc.BlockOperation || j.BlockOperation
	if acc.EnforcePipeline == nil {
		acc.EnforcePipeline = j.EnforcePipeline
	}
	acc.AddTags = unionTags(acc.AddTags, j.AddTags)
	acc.UpdateProperties = overlayProps(acc.UpdateProperties, j.UpdateProperties)
	if acc.HealWithReplicaID == "" {
		acc.HealWithReplicaID = j.HealWithReplicaID
	}
	acc.Alert = maxAlert(acc.Alert, j.Alert)
	return acc
}

func unionTags(a, b map[string]string) map[string]string {
	if len(b) == 0 {
		return a
	}
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// overlayProps applies b over a, last writer wins: since Evaluate calls
// merge in module-registration order, a later module's property update
// always overrides an earlier one for the same key (spec §4.8).
func overlayProps(a, b map[string]string) map[string]string {
	return unionTags(a, b)
}

func maxAlert(a, b *Alert) *Alert {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Severity > a.Severity {
		return b
	}
	return a
}
