package modules

import (
	"context"
	"net/http"
	"strings"

	"github.com/kilnstore/kiln/sentinel"
)

// CompressionAdvisorThreshold is the size above which the advisor forces
// compression on text payloads (spec §4.8: "enforce compression on
// large text").
const CompressionAdvisorThreshold = 64 << 10

// CompressionAdvisorModule forces compression onto the resolved pipeline
// when a write is large and looks like text, tagging the manifest so an
// operator can see the decision was automatic.
type CompressionAdvisorModule struct{}

func (CompressionAdvisorModule) Name() string { return "compression-advisor" }

func (CompressionAdvisorModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnWrite || sctx.DataStream == nil || sctx.Metadata == nil {
		return sentinel.Judgment{}, nil
	}
	if sctx.Metadata.Pipeline.EnableCompression {
		return sentinel.Judgment{}, nil // already compressing, nothing to advise
	}
	if sctx.Metadata.SizeBytes > 0 && sctx.Metadata.SizeBytes < CompressionAdvisorThreshold {
		return sentinel.Judgment{}, nil
	}

	head, err := readUpTo(sctx.DataStream, 512)
	if err != nil {
		return sentinel.Judgment{}, err
	}
	if !strings.HasPrefix(http.DetectContentType(head), "text/") {
		return sentinel.Judgment{}, nil
	}

	return sentinel.Judgment{
		InterventionRequired: true,
		EnforcePipeline:      autoCompressPipeline(sctx.Metadata),
		AddTags:              map[string]string{"Governance:CompressionAdvised": "True"},
	}, nil
}
