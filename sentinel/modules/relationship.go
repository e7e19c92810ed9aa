package modules

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/kilnstore/kiln/sentinel"
)

// MaxRelationshipScanBytes bounds which files the relationship mapper
// inspects (spec §4.8: "extract references from small text files").
const MaxRelationshipScanBytes = 64 << 10

var referencePattern = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9][A-Za-z0-9._/-]{2,}`)

// RelationshipModule extracts path-like references from small text
// payloads (e.g. "container/blob.txt" mentions) and records them as a
// content summary, so a later Search can surface objects that reference
// each other.
type RelationshipModule struct{}

func (RelationshipModule) Name() string { return "relationship-mapper" }

func (RelationshipModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnWrite || sctx.DataStream == nil || sctx.Metadata == nil {
		return sentinel.Judgment{}, nil
	}
	if sctx.Metadata.SizeBytes > MaxRelationshipScanBytes {
		return sentinel.Judgment{}, nil
	}

	data, err := readUpTo(sctx.DataStream, MaxRelationshipScanBytes)
	if err != nil {
		return sentinel.Judgment{}, err
	}
	if !strings.HasPrefix(http.DetectContentType(data), "text/") {
		return sentinel.Judgment{}, nil
	}

	matches := referencePattern.FindAllString(string(data), -1)
	if len(matches) == 0 {
		return sentinel.Judgment{}, nil
	}
	uniq := dedupeStrings(matches)
	sort.Strings(uniq)
	if len(uniq) > 8 {
		uniq = uniq[:8]
	}
	return sentinel.Judgment{
		UpdateProperties: map[string]string{"ContentSummary": "references: " + strings.Join(uniq, ", ")},
	}, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
