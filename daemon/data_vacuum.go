package daemon

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/hk"
	"github.com/kilnstore/kiln/index"
	"github.com/kilnstore/kiln/store"
)

// DefaultVacuumInterval is DataVacuum's pass cadence. Spec §4.11 doesn't
// name a default the way SentinelDaemon's scanInterval does, so this
// mirrors it for consistency.
const DefaultVacuumInterval = 5 * time.Minute

// Report summarizes one DataVacuum pass (spec §4.11).
type Report struct {
	DeletedCount   int
	ReclaimedBytes int64
	Duration       time.Duration
}

// DataVacuum is the background orphan-blob collector (spec §4.11, C11).
type DataVacuum struct {
	Index    index.MetadataIndex
	Backends []store.Backend
	Interval time.Duration
}

func (v *DataVacuum) interval() time.Duration {
	if v.Interval > 0 {
		return v.Interval
	}
	return DefaultVacuumInterval
}

// Start registers the vacuum pass on hk's shared scheduler under name.
func (v *DataVacuum) Start(ctx context.Context, name string, initial time.Duration) {
	hk.Reg(name, func() time.Duration {
		report, err := v.Run(ctx)
		if err != nil {
			glog.Errorf("vacuum: pass failed: %v", err)
		} else {
			glog.Infof("vacuum: pass complete: deleted=%d reclaimed=%dB duration=%s",
				report.DeletedCount, report.ReclaimedBytes, report.Duration)
		}
		return v.interval()
	}, initial)
}

// Run executes a single pass (spec §4.11): collect every live manifest's
// BlobUri, enumerate every Lister-capable backend's contents, delete any
// object not in the valid set. Per-blob failures are logged; the pass
// continues.
func (v *DataVacuum) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	valid, err := v.validURIs()
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, backend := range v.Backends {
		lister, ok := backend.(store.Lister)
		if !ok {
			continue
		}
		entries, err := lister.List(ctx)
		if err != nil {
			glog.Errorf("vacuum: listing backend %s failed: %v", backend.Scheme(), err)
			continue
		}
		for _, entry := range entries {
			if valid[entry.URI] {
				continue
			}
			uri, err := cmn.ParseBlobURI(entry.URI)
			if err != nil {
				glog.Errorf("vacuum: skipping unparseable orphan uri %q: %v", entry.URI, err)
				continue
			}
			if err := backend.Delete(ctx, uri); err != nil {
				glog.Errorf("vacuum: failed to delete orphan %q: %v", entry.URI, err)
				continue
			}
			report.DeletedCount++
			report.ReclaimedBytes += entry.SizeBytes
		}
	}
	report.Duration = time.Since(start)
	return report, nil
}

func (v *DataVacuum) validURIs() (map[string]bool, error) {
	cur, err := v.Index.EnumerateAll()
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	valid := make(map[string]bool)
	for {
		m, ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		valid[m.BlobURI] = true
	}
	return valid, nil
}
