package modules

import (
	"context"
	"mime"
	"path/filepath"
	"strings"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/sentinel"
)

// AutoTagModule tags a manifest with a best-guess content type derived
// from its blob name's extension (spec §4.8: "filename heuristics"),
// the same extension->type mapping fs/content.go uses to resolve a
// content handler by file extension in the teacher.
type AutoTagModule struct{}

func (AutoTagModule) Name() string { return "auto-tagging" }

func (AutoTagModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnWrite || sctx.Metadata == nil {
		return sentinel.Judgment{}, nil
	}
	if _, ok := sctx.Metadata.Tags["ContentType"]; ok {
		return sentinel.Judgment{}, nil // caller already supplied one
	}
	uri, err := cmn.ParseBlobURI(sctx.Metadata.BlobURI)
	if err != nil {
		return sentinel.Judgment{}, nil
	}
	ext := strings.ToLower(filepath.Ext(uri.BlobName))
	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return sentinel.Judgment{}, nil
	}
	return sentinel.Judgment{AddTags: map[string]string{"ContentType": ct}}, nil
}
