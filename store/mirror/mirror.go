// Package mirror implements the primary/secondary mirrored
// StorageBackend (spec §4.2): Save writes the primary synchronously
// (a primary failure fails the whole operation) and the secondary
// best-effort; Load tries the primary first, falling back to the
// secondary and asynchronously repairing the primary on a primary
// miss; Delete attempts both. Grounded on the teacher's mirror package
// (mirror/mirror.go, mirror/xreg.go), which drives the same
// primary-copy-with-best-effort-replica pattern for aistore's
// intra-cluster object mirroring.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package mirror

import (
	"bytes"
	"context"
	"io"

	"github.com/golang/glog"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/store"
)

type Backend struct {
	primary   store.Backend
	secondary store.Backend
}

// interface guard
var _ store.Backend = (*Backend)(nil)

func New(primary, secondary store.Backend) *Backend {
	return &Backend{primary: primary, secondary: secondary}
}

func (b *Backend) Scheme() string { return cmn.SchemeMirror }

func (b *Backend) Save(ctx context.Context, uri cmn.BlobURI, r io.Reader) (string, int64, error) {
	var buf bytes.Buffer
	tee := io.TeeReader(r, &buf)

	resolvedURI, n, err := b.primary.Save(ctx, uri, tee)
	if err != nil {
		return "", 0, err
	}

	go func() {
		if _, _, err := b.secondary.Save(context.Background(), uri, bytes.NewReader(buf.Bytes())); err != nil {
			glog.Errorf("mirror: best-effort secondary save failed for %s: %v", uri, err)
		}
	}()

	return resolvedURI, n, nil
}

func (b *Backend) Load(ctx context.Context, uri cmn.BlobURI) (io.ReadCloser, error) {
	rc, err := b.primary.Load(ctx, uri)
	if err == nil {
		return rc, nil
	}
	glog.Warningf("mirror: primary load failed for %s, falling back to secondary: %v", uri, err)

	secRC, secErr := b.secondary.Load(ctx, uri)
	if secErr != nil {
		return nil, err // surface the primary's error; the blob is genuinely missing
	}
	data, readErr := io.ReadAll(secRC)
	secRC.Close()
	if readErr != nil {
		return nil, readErr
	}

	go b.repairPrimary(uri, data)

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) repairPrimary(uri cmn.BlobURI, data []byte) {
	if _, _, err := b.primary.Save(context.Background(), uri, bytes.NewReader(data)); err != nil {
		glog.Errorf("mirror: async primary repair failed for %s: %v", uri, err)
	}
}

func (b *Backend) Delete(ctx context.Context, uri cmn.BlobURI) error {
	primaryErr := b.primary.Delete(ctx, uri)
	if secErr := b.secondary.Delete(ctx, uri); secErr != nil {
		glog.Errorf("mirror: secondary delete failed for %s: %v", uri, secErr)
	}
	return primaryErr
}

func (b *Backend) Exists(ctx context.Context, uri cmn.BlobURI) (bool, error) {
	ok, err := b.primary.Exists(ctx, uri)
	if err == nil && ok {
		return true, nil
	}
	return b.secondary.Exists(ctx, uri)
}
