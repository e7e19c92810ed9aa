// Package store defines the StorageBackend contract (spec §4.2, C2):
// blob put/get/delete/exists over a URI scheme. Concrete providers live
// in subpackages (store/local, store/segmented, store/mirror,
// store/netstore, store/ram, store/cloud), each registered with
// package plugin under the "store.Backend" interface tag so
// PipelineEngine and Kernel look them up by scheme without importing
// every provider directly — the same provider-per-subpackage layout
// the teacher uses for its own ais/backend providers.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package store

import (
	"context"
	"io"

	"github.com/kilnstore/kiln/cmn"
)

// InterfaceTag is the plugin.Registry interface tag every Backend
// implementation advertises in its handshake.
const InterfaceTag = "store.Backend"

// Backend is the uniform operation set every storage provider
// implements (spec §4.2).
type Backend interface {
	// Scheme reports the URI scheme this backend serves, e.g. "file".
	Scheme() string
	// Save persists the stream at uri, returning the number of bytes
	// written and the URI the blob was actually persisted under.
	// resolvedURI equals uri.String() for every backend whose location
	// is fully determined by (containerID, blobName); store/segmented
	// is the one exception, returning a URI carrying the segment id,
	// offset, and length query parameters assigned at write time
	// (spec §5.1's decision on the segmented-disk read path).
	Save(ctx context.Context, uri cmn.BlobURI, r io.Reader) (resolvedURI string, sizeBytes int64, err error)
	// Load opens uri for reading. Callers must Close the returned
	// stream.
	Load(ctx context.Context, uri cmn.BlobURI) (io.ReadCloser, error)
	// Delete removes uri. Deleting an absent object is not an error.
	Delete(ctx context.Context, uri cmn.BlobURI) error
	// Exists reports whether uri currently resolves to an object.
	Exists(ctx context.Context, uri cmn.BlobURI) (bool, error)
}

// ListEntry describes one object a Lister backend discovered during a
// vacuum pass: the full BlobURI string and its on-disk size.
type ListEntry struct {
	URI       string
	SizeBytes int64
}

// Lister is an optional capability a Backend may advertise for
// DataVacuum (spec §4.11): "for every storage backend supporting
// listing, enumerate (uri, size)". Backends without a practical way to
// enumerate their contents (store/segmented, store/netstore) don't
// implement it, and DataVacuum skips them.
type Lister interface {
	List(ctx context.Context) ([]ListEntry, error)
}

// SizeBytes, when a stream's length cannot be determined up front
// (non-seekable reader), resolves to 0 — spec §5's Open Question on
// SizeBytes accounting is decided in SPEC_FULL.md §5.1: plaintext
// length when the source is seekable, else 0, fixed up later by the
// pipeline once the full stream has been consumed.
func SizeBytes(r io.Reader) (int64, bool) {
	type sizer interface {
		Size() int64
	}
	if s, ok := r.(sizer); ok {
		return s.Size(), true
	}
	type seeker interface {
		Seek(offset int64, whence int) (int64, error)
	}
	if s, ok := r.(seeker); ok {
		cur, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		end, err := s.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, false
		}
		if _, err := s.Seek(cur, io.SeekStart); err != nil {
			return 0, false
		}
		return end - cur, true
	}
	return 0, false
}
