package modules

import (
	"context"

	"github.com/kilnstore/kiln/sentinel"
)

// GDPRModule blocks user-tagged writes into the "public" container
// (spec §4.8): a tagged object in a public scope is treated as a
// potential personal-data disclosure regardless of its payload content.
type GDPRModule struct {
	// PublicContainer is the container id treated as public; defaults to
	// "public" via NewGDPRModule.
	PublicContainer string
}

func NewGDPRModule() *GDPRModule { return &GDPRModule{PublicContainer: "public"} }

func (m *GDPRModule) Name() string { return "gdpr" }

func (m *GDPRModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnWrite || sctx.Metadata == nil {
		return sentinel.Judgment{}, nil
	}
	if sctx.Metadata.ContainerID != m.PublicContainer {
		return sentinel.Judgment{}, nil
	}
	if len(sctx.Metadata.Tags) == 0 {
		return sentinel.Judgment{}, nil
	}
	return sentinel.Judgment{
		BlockOperation: true,
		Alert: &sentinel.Alert{
			Code:     "GDPR_VIOLATION",
			Severity: sentinel.SeverityCritical,
			Message:  "user-tagged object written to public container",
		},
	}, nil
}
