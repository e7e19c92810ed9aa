// encryptionProvider adapts cipher.Writer/cipher.Reader — the
// ChunkedCipherStream format (spec §4.3) — into the Transformation
// contract's push/pull shape: OnWrite pipes plaintext through a
// cipher.Writer (push-style), OnRead wraps cipher.Reader directly
// (pull-style, no pipe needed).
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package transform

import (
	"context"
	"io"

	"github.com/kilnstore/kiln/cipher"
	"github.com/kilnstore/kiln/cmn"
)

type encryptionProvider struct{ id string }

// NewEncryption constructs the sole ChunkedCipherStream transformation
// provider (spec §6: "the sole on-disk ciphertext format"). Concrete
// algorithm selection beyond chacha20poly1305 is out of scope (spec §1).
func NewEncryption(id string) Transformation { return &encryptionProvider{id: id} }

func (p *encryptionProvider) ID() string        { return p.id }
func (p *encryptionProvider) Category() string  { return cmn.CategoryEncryption }
func (p *encryptionProvider) QualityLevel() int { return 1 }

func (p *encryptionProvider) OnWrite(ctx context.Context, in io.Reader, args RuntimeArgs) (io.ReadCloser, error) {
	aead, err := cipher.NewAEAD(args.Key)
	if err != nil {
		return nil, cmn.NewInternal("", err, "encryption: failed to derive AEAD")
	}
	return pipeWriter(in, func(w io.Writer) io.WriteCloser {
		return cipher.NewWriter(w, aead, args.ContextID)
	}), nil
}

func (p *encryptionProvider) OnRead(ctx context.Context, in io.Reader, args RuntimeArgs) (io.ReadCloser, error) {
	aead, err := cipher.NewAEAD(args.Key)
	if err != nil {
		return nil, cmn.NewInternal("", err, "encryption: failed to derive AEAD")
	}
	r := cipher.NewReader(in, aead, args.ContextID)
	return newReadCloser(r, nil), nil
}
