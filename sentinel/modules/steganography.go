package modules

import (
	"context"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/sentinel"
)

// SteganographyModule flags a mismatch between a blob's extension and
// its sniffed magic bytes (spec §4.8): e.g. a ".jpg" that is actually a
// zip archive. It never blocks — the mismatch is informational, tagged
// for an operator or the sentinel daemon to follow up on.
type SteganographyModule struct{}

func (SteganographyModule) Name() string { return "steganography" }

func (SteganographyModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnWrite || sctx.DataStream == nil || sctx.Metadata == nil {
		return sentinel.Judgment{}, nil
	}
	ext := strings.ToLower(filepath.Ext(sctx.Metadata.BlobURI))
	if ext == "" {
		uri, err := cmn.ParseBlobURI(sctx.Metadata.BlobURI)
		if err == nil {
			ext = strings.ToLower(filepath.Ext(uri.BlobName))
		}
	}
	expected := mime.TypeByExtension(ext)
	if ext == "" || expected == "" {
		return sentinel.Judgment{}, nil // no meaningful extension to cross-check
	}

	head, err := readUpTo(sctx.DataStream, 512)
	if err != nil {
		return sentinel.Judgment{}, err
	}
	if len(head) == 0 {
		return sentinel.Judgment{}, nil
	}
	sniffed := http.DetectContentType(head)

	if !sameFamily(expected, sniffed) {
		return sentinel.Judgment{
			InterventionRequired: true,
			AddTags: map[string]string{
				"Governance:ExtensionMismatch": sniffed,
			},
		}, nil
	}
	return sentinel.Judgment{}, nil
}

// sameFamily compares mime types up to their "/" top-level family;
// http.DetectContentType rarely reproduces an exact registered mime
// string ("text/plain; charset=utf-8" vs "text/plain"), so an exact
// Equal would false-positive on nearly everything.
func sameFamily(a, b string) bool {
	fa, _, _ := strings.Cut(a, ";")
	fb, _, _ := strings.Cut(b, ";")
	famA, _, okA := strings.Cut(strings.TrimSpace(fa), "/")
	famB, _, okB := strings.Cut(strings.TrimSpace(fb), "/")
	if !okA || !okB {
		return strings.TrimSpace(fa) == strings.TrimSpace(fb)
	}
	if famA == "application" || famB == "application" {
		return true // octet-stream/zip/etc. are too generic to flag reliably
	}
	return famA == famB
}
