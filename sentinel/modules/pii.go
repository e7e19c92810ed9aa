// Package modules holds the reference Sentinel modules spec §4.8 names:
// PII/secret detector, GDPR, steganography, integrity, deduplication
// advisor, compression advisor, auto-tagging, relationship mapper, and
// sentiment. Each is a small, independent sentinel.Module grounded on
// the teacher's content-inspection helpers (fs/content.go resolves a
// content type by extension the same way AutoTagModule does here) or,
// where the teacher has no direct analogue (PII/GDPR/steganography have
// no aistore equivalent — object storage doesn't inspect payloads),
// written in the teacher's idiom from scratch.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package modules

import (
	"bufio"
	"context"
	"io"
	"regexp"

	"github.com/kilnstore/kiln/sentinel"
)

// MaxPIIScanBytes bounds the PII/secret detector's scan window (spec
// §4.8: "regex over first <=5 MiB").
const MaxPIIScanBytes = 5 << 20

var secretPattern = regexp.MustCompile(`(?i)(password|passwd|api[_-]?key|secret|token)\s*[:=]\s*\S{6,}`)

// PIIModule flags likely credentials/secrets in a write payload. Inside
// the "public" container the write is blocked outright; everywhere else
// the module instead forces encryption on the resolved pipeline and
// tags the manifest, the auto-encrypt path spec §8 scenario 3 describes.
type PIIModule struct{}

func (PIIModule) Name() string { return "pii-secret-detector" }

func (PIIModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnWrite || sctx.DataStream == nil {
		return sentinel.Judgment{}, nil
	}
	found, err := scanForSecret(sctx.DataStream)
	if err != nil || !found {
		return sentinel.Judgment{}, err
	}

	if sctx.Metadata != nil && sctx.Metadata.ContainerID == "public" {
		return sentinel.Judgment{
			BlockOperation: true,
			Alert:          &sentinel.Alert{Code: "PII_SECRET", Severity: sentinel.SeverityCritical, Message: "likely credential/secret in payload written to a public container"},
		}, nil
	}

	return sentinel.Judgment{
		InterventionRequired: true,
		EnforcePipeline:      autoEncryptPipeline(sctx.Metadata),
		AddTags:              map[string]string{"Governance:AutoEncrypted": "True"},
	}, nil
}

func scanForSecret(r io.Reader) (bool, error) {
	limited := io.LimitReader(r, MaxPIIScanBytes)
	scanner := bufio.NewScanner(limited)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if secretPattern.Match(scanner.Bytes()) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
