// zstdProvider backs the "Optimal" and "High" compression levels
// (SPEC_FULL.md §3): a provider at a chosen klauspost/compress/zstd
// encoder level whose QualityLevel policy.Optimizer's "descending
// quality level" tie-break (spec §4.6) compares against lz4's. The
// kernel registers a single instance, at QualityLevel 2.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package transform

import (
	"context"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/kilnstore/kiln/cmn"
)

type zstdProvider struct {
	id      string
	level   zstd.EncoderLevel
	quality int
}

// NewZstd constructs a zstd compression transformation at the given
// encoder level. quality is the QualityLevel policy.Optimizer compares
// across registered compression providers.
func NewZstd(id string, level zstd.EncoderLevel, quality int) Transformation {
	return &zstdProvider{id: id, level: level, quality: quality}
}

func (p *zstdProvider) ID() string        { return p.id }
func (p *zstdProvider) Category() string  { return cmn.CategoryCompression }
func (p *zstdProvider) QualityLevel() int { return p.quality }

func (p *zstdProvider) OnWrite(ctx context.Context, in io.Reader, args RuntimeArgs) (io.ReadCloser, error) {
	return pipeWriter(in, func(w io.Writer) io.WriteCloser {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(p.level))
		if err != nil {
			// zstd.NewWriter only errors on a malformed option list, which
			// is fixed at construction; degrade to a no-op writer rather
			// than panic so the pipe still closes cleanly.
			return nopWriteCloser{w}
		}
		return enc
	}), nil
}

func (p *zstdProvider) OnRead(ctx context.Context, in io.Reader, args RuntimeArgs) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, cmn.NewInternal("", err, "zstd: failed to open decoder")
	}
	return newReadCloser(dec, func() error { dec.Close(); return nil }), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
