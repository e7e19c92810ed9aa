// Package transform implements the Transformation contract spec §4.9
// names (the pipeline's unit of work: "Each transformation exposes
// OnWrite(inStream, ctx, runtimeArgs) -> outStream"). Concrete
// providers are compression (lz4, zstd) and encryption
// (ChunkedCipherStream); every provider is registered as a
// plugin.CategoryTransformation plugin so policy.Optimizer can select
// among them by category and QualityLevel (spec §4.6).
//
// The teacher has no at-rest transformation pipeline to adapt, so the
// push/pull adapter here follows spec §9's design note directly: a
// bounded io.Pipe with a producer goroutine feeding a push-style codec
// (lz4.Writer, zstd.Encoder, cipher.Writer) and the pipe's read side
// handed back as the stage's output stream. Pull-style codecs
// (lz4.Reader, zstd.Decoder, cipher.Reader) need no such adapter.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package transform

import (
	"context"
	"io"

	"github.com/kilnstore/kiln/plugin"
)

// InterfaceTag is the plugin.Registry interface tag every Transformation
// implementation advertises.
const InterfaceTag = "transform.Transformation"

// RuntimeArgs are the per-call arguments spec §4.9 says every pipeline
// step receives: {Owner, Tenant, Key?}. ContextID is the AAD context the
// engine binds an encryption stage to (the manifest id), preventing
// chunk reordering or cross-object ciphertext swap (spec §4.3).
type RuntimeArgs struct {
	Owner     string
	Tenant    string
	Key       []byte
	ContextID string
}

// Transformation is a single named pipeline step (spec §3, §4.9): a
// category ("Compression"/"Encryption") plus provider id and an ordered
// pair of stream adapters. QualityLevel is the tie-breaker
// policy.Optimizer uses when more than one provider of a category is
// registered (spec §4.6: "ordered by... descending quality level").
type Transformation interface {
	ID() string
	Category() string
	QualityLevel() int
	OnWrite(ctx context.Context, in io.Reader, args RuntimeArgs) (io.ReadCloser, error)
	OnRead(ctx context.Context, in io.Reader, args RuntimeArgs) (io.ReadCloser, error)
}

// pipeWriter runs wrap in a goroutine over an io.Pipe, copying in into
// the writer side and returning the reader side as the transformed
// output stream. Any copy or wrap error is delivered to the reader via
// CloseWithError, and Close on the returned stream tears down the pipe
// from the consumer side too so a reader that stops early doesn't leak
// the producer goroutine.
func pipeWriter(in io.Reader, wrap func(w io.Writer) io.WriteCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		wc := wrap(pw)
		_, err := io.Copy(wc, in)
		if closeErr := wc.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err) // nil err => pw.Close(), same as the io.Pipe contract
	}()
	return pr
}

// readCloser adapts a bare io.Reader plus an independent Closer (or none)
// into an io.ReadCloser, for pull-style codecs that decode lazily from
// the underlying stream.
type readCloser struct {
	io.Reader
	closeFn func() error
}

func (r readCloser) Close() error {
	if r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}

func newReadCloser(r io.Reader, closeFn func() error) io.ReadCloser {
	return readCloser{Reader: r, closeFn: closeFn}
}

// Factory adapts a ready-built Transformation into a plugin.Factory, the
// common path every provider file in this package uses.
func Factory(t Transformation, id, name, version string, capabilityIDs []string) plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		resp := plugin.HandshakeResponse{
			ID:            id,
			Name:          name,
			Version:       version,
			Category:      plugin.CategoryTransformation,
			Interfaces:    []string{InterfaceTag},
			CapabilityIDs: capabilityIDs,
			ReadyState:    plugin.Ready,
		}
		return resp, t, nil
	})
}
