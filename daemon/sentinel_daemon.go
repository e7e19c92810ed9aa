// Package daemon implements the kernel's two background features (spec
// §4.10, §4.11, C10/C11): SentinelDaemon, a periodic full-index scan
// that re-evaluates governance and drives self-healing, and DataVacuum,
// a periodic garbage collector reconciling storage backends against the
// index. Both register themselves on package hk's shared scheduler
// (spec §5's "background daemons use their own context with a shutdown
// deadline" is satisfied by each job's context.Context parameter),
// grounded on the teacher's cluster/lom_cache_hk.go housekeeping job —
// the one existing background scanner in the pack that walks an
// in-memory index on a timer and mutates entries it finds stale.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package daemon

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/hk"
	"github.com/kilnstore/kiln/index"
	"github.com/kilnstore/kiln/pipeline"
	"github.com/kilnstore/kiln/sentinel"
)

// DefaultScanInterval is the SentinelDaemon pass cadence (spec §4.10).
const DefaultScanInterval = 5 * time.Minute

// InterObjectYield is the pause between objects within a single scan
// pass (spec §4.10: "yield regularly (e.g. 50ms between objects) to
// avoid starving the CPU").
const InterObjectYield = 50 * time.Millisecond

// Restorer requests replica-based self-healing. SentinelDaemon calls it
// when a Judgment carries a HealWithReplicaID; Replication.Restore
// itself is out of this kernel's scope (spec §1's Non-goals exclude
// cluster consensus), so a nil Restorer just logs and skips healing
// rather than failing the scan.
type Restorer interface {
	Restore(ctx context.Context, manifestID, replicaID string) error
}

// Clock lets tests inject a deterministic "today" and "now"; the zero
// SentinelDaemon uses time.Now.
type Clock func() time.Time

// SentinelDaemon is the background governance scanner (spec §4.10, C10).
type SentinelDaemon struct {
	Index         index.MetadataIndex
	Sentinel      *sentinel.Sentinel
	Pipeline      *pipeline.Engine
	Restorer      Restorer
	ScanInterval  time.Duration
	SystemContext cmn.SecurityContext
	Clock         Clock
}

func (d *SentinelDaemon) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d *SentinelDaemon) interval() time.Duration {
	if d.ScanInterval > 0 {
		return d.ScanInterval
	}
	return DefaultScanInterval
}

// verifiedTag is the GovernanceTags key SentinelDaemon stamps with
// today's date on a clean pass (spec §3: `"Verified:YYYY-MM-DD":"True"`).
func verifiedTag(today time.Time) string {
	return "Verified:" + today.Format("2006-01-02")
}

// Start registers the daemon's scan loop on hk's shared scheduler under
// name, running once after initial and then again after every
// completed pass.
func (d *SentinelDaemon) Start(ctx context.Context, name string, initial time.Duration) {
	hk.Reg(name, func() time.Duration {
		d.runPass(ctx)
		return d.interval()
	}, initial)
}

func (d *SentinelDaemon) runPass(ctx context.Context) {
	cur, err := d.Index.EnumerateAll()
	if err != nil {
		glog.Errorf("sentineld: enumerate failed: %v", err)
		return
	}
	defer cur.Close()

	today := d.now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m, ok, err := cur.Next()
		if err != nil {
			glog.Errorf("sentineld: cursor error: %v", err)
			return
		}
		if !ok {
			return
		}
		if m.GovernanceTags[verifiedTag(today)] == "True" {
			continue
		}
		d.scanOne(ctx, m, today)
		time.Sleep(InterObjectYield)
	}
}

func (d *SentinelDaemon) scanOne(ctx context.Context, m *cmn.Manifest, today time.Time) {
	// Fetch the plaintext stream via the normal read path so decrypted
	// bytes are available for a deep scan and all read-side governance
	// still applies (spec §4.10).
	stream, err := d.Pipeline.GetBlob(ctx, d.SystemContext, m.ContainerID, blobName(m))
	if err != nil {
		glog.Errorf("sentineld: read failed for manifest %s: %v", m.ID, err)
		return
	}
	defer stream.Close()

	judgment, err := d.Sentinel.Evaluate(ctx, sentinel.Context{
		Trigger:     sentinel.OnSchedule,
		Metadata:    m,
		DataStream:  stream,
		UserContext: d.SystemContext,
	})
	if err != nil {
		glog.Errorf("sentineld: evaluation failed for manifest %s: %v", m.ID, err)
		return
	}

	for k, v := range judgment.AddTags {
		m.SetGovernanceTag(k, v)
	}
	applyScheduledProperties(m, judgment.UpdateProperties)
	if judgment.EnforcePipeline != nil {
		m.Pipeline = *judgment.EnforcePipeline
	}

	if judgment.HealWithReplicaID != "" {
		d.heal(ctx, m, judgment.HealWithReplicaID)
	} else if !judgment.BlockOperation {
		delete(m.GovernanceTags, "Status:Corrupt")
		m.SetGovernanceTag(verifiedTag(today), "True")
	}

	if err := d.Index.IndexManifest(m); err != nil {
		glog.Errorf("sentineld: reindex failed for manifest %s: %v", m.ID, err)
	}
}

func (d *SentinelDaemon) heal(ctx context.Context, m *cmn.Manifest, replicaID string) {
	if d.Restorer == nil {
		glog.Warningf("sentineld: manifest %s proposes heal from replica %s but no Restorer is configured", m.ID, replicaID)
		return
	}
	if err := d.Restorer.Restore(ctx, m.ID, replicaID); err != nil {
		glog.Errorf("sentineld: restore failed for manifest %s from replica %s: %v", m.ID, replicaID, err)
		return
	}
	delete(m.GovernanceTags, "Status:Corrupt")
	m.SetGovernanceTag(verifiedTag(d.now()), "True")
}

func applyScheduledProperties(m *cmn.Manifest, props map[string]string) {
	for k, v := range props {
		if k == "ContentSummary" {
			m.ContentSummary = v
			continue
		}
		m.SetGovernanceTag(k, v)
	}
}

// blobName recovers the "<blobName>" component of a manifest's BlobUri
// for the Pipeline.GetBlob(containerId, blobName) call signature.
func blobName(m *cmn.Manifest) string {
	uri, err := cmn.ParseBlobURI(m.BlobURI)
	if err != nil {
		return ""
	}
	return uri.BlobName
}
