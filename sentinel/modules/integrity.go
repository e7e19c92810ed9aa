package modules

import (
	"context"
	"strings"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/cmn/cos"
	"github.com/kilnstore/kiln/sentinel"
)

// DefaultMaxScanBytes bounds how large an object IntegrityModule will
// recompute a checksum for; objects above the bound are skipped (spec
// §4.8: "modules scanning large payloads SHOULD skip if SizeBytes
// exceeds a configurable bound").
const DefaultMaxScanBytes = 512 << 20

// IntegrityModule recomputes SHA-256 on read/schedule and compares it to
// the manifest's recorded Checksum (spec §4.8). A mismatch sets
// Status:Corrupt, blocks the operation, and — if a Replica:* governance
// tag is present — proposes healing from that replica (spec §8
// scenario 4).
type IntegrityModule struct {
	MaxScanBytes int64
}

func NewIntegrityModule() *IntegrityModule {
	return &IntegrityModule{MaxScanBytes: DefaultMaxScanBytes}
}

func (m *IntegrityModule) Name() string { return "integrity" }

func (m *IntegrityModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnRead && sctx.Trigger != sentinel.OnSchedule {
		return sentinel.Judgment{}, nil
	}
	if sctx.DataStream == nil || sctx.Metadata == nil || sctx.Metadata.Checksum == "" {
		return sentinel.Judgment{}, nil
	}
	if m.MaxScanBytes > 0 && sctx.Metadata.SizeBytes > m.MaxScanBytes {
		return sentinel.Judgment{}, nil
	}

	sum, err := cos.SHA256Hex(sctx.DataStream)
	if err != nil {
		return sentinel.Judgment{}, err
	}
	if sum == sctx.Metadata.Checksum {
		return sentinel.Judgment{}, nil
	}

	j := sentinel.Judgment{
		BlockOperation:   true,
		UpdateProperties: map[string]string{"Status:Corrupt": "True"},
		Alert: &sentinel.Alert{
			Code:     "INTEGRITY_MISMATCH",
			Severity: sentinel.SeverityCritical,
			Message:  "recomputed checksum does not match manifest",
		},
	}
	if replicaID := findReplicaTag(sctx.Metadata); replicaID != "" {
		j.HealWithReplicaID = replicaID
	}
	return j, nil
}

// findReplicaTag returns the replica id from the first "Replica:<id>"
// governance tag found, or "" if none is present.
func findReplicaTag(m *cmn.Manifest) string {
	for k, v := range m.GovernanceTags {
		if strings.HasPrefix(k, "Replica:") {
			return v
		}
	}
	return ""
}
