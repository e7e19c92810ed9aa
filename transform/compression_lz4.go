// lz4Provider is the "Fast" compression provider (SPEC_FULL.md §3):
// StorageIntent.Compression=Fast resolves to this provider in
// policy.Optimizer by virtue of its low QualityLevel relative to zstd.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package transform

import (
	"context"
	"io"

	"github.com/pierrec/lz4/v3"

	"github.com/kilnstore/kiln/cmn"
)

type lz4Provider struct{ id string }

// NewLZ4 constructs the lz4 compression transformation, registered under
// cmn.CategoryCompression with QualityLevel 1 (cheapest, fastest).
func NewLZ4(id string) Transformation { return &lz4Provider{id: id} }

func (p *lz4Provider) ID() string       { return p.id }
func (p *lz4Provider) Category() string { return cmn.CategoryCompression }
func (p *lz4Provider) QualityLevel() int { return 1 }

func (p *lz4Provider) OnWrite(ctx context.Context, in io.Reader, args RuntimeArgs) (io.ReadCloser, error) {
	return pipeWriter(in, func(w io.Writer) io.WriteCloser { return lz4.NewWriter(w) }), nil
}

func (p *lz4Provider) OnRead(ctx context.Context, in io.Reader, args RuntimeArgs) (io.ReadCloser, error) {
	return newReadCloser(lz4.NewReader(in), nil), nil
}
