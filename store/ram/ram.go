// Package ram implements an in-memory StorageBackend (spec §4.2): the
// "mem" scheme, used for ephemeral/cache-tier blobs and in tests where
// a disk round-trip would only add noise. Grounded on the teacher's
// memsys package's reliance on plain byte slices behind a concurrent
// map rather than a slab allocator — this spec has no equivalent of
// aistore's SGL chunked memory, so a sync.Map of []byte is the
// direct, idiomatic translation of "RAM backend" at this scope.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package ram

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/store"
)

type object struct {
	uri  string
	data []byte
}

type Backend struct {
	mu    sync.RWMutex
	blobs map[string]object
}

// interface guards
var (
	_ store.Backend = (*Backend)(nil)
	_ store.Lister  = (*Backend)(nil)
)

func New() *Backend {
	return &Backend{blobs: make(map[string]object)}
}

func (b *Backend) Scheme() string { return cmn.SchemeMem }

func key(uri cmn.BlobURI) string { return cmn.ScopePath(uri.ContainerID, uri.BlobName) }

func (b *Backend) Save(ctx context.Context, uri cmn.BlobURI, r io.Reader) (string, int64, error) {
	if err := cmn.ValidateContainerID(uri.ContainerID); err != nil {
		return "", 0, err
	}
	if err := cmn.ValidateBlobName(uri.BlobName); err != nil {
		return "", 0, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	b.mu.Lock()
	b.blobs[key(uri)] = object{uri: uri.String(), data: data}
	b.mu.Unlock()
	return uri.String(), int64(len(data)), nil
}

func (b *Backend) Load(ctx context.Context, uri cmn.BlobURI) (io.ReadCloser, error) {
	b.mu.RLock()
	obj, ok := b.blobs[key(uri)]
	b.mu.RUnlock()
	if !ok {
		return nil, cmn.NewNotFound("blob not found: %s", uri)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *Backend) Delete(ctx context.Context, uri cmn.BlobURI) error {
	b.mu.Lock()
	delete(b.blobs, key(uri))
	b.mu.Unlock()
	return nil
}

func (b *Backend) Exists(ctx context.Context, uri cmn.BlobURI) (bool, error) {
	b.mu.RLock()
	_, ok := b.blobs[key(uri)]
	b.mu.RUnlock()
	return ok, nil
}

// List returns every object currently held, for DataVacuum (spec §4.11).
func (b *Backend) List(ctx context.Context) ([]store.ListEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]store.ListEntry, 0, len(b.blobs))
	for _, obj := range b.blobs {
		out = append(out, store.ListEntry{URI: obj.uri, SizeBytes: int64(len(obj.data))})
	}
	return out, nil
}

// Factory adapts New into a plugin.Factory.
func Factory() plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		resp := plugin.HandshakeResponse{
			ID:            "store.ram",
			Name:          "in-memory storage backend",
			Version:       "1.0.0",
			Category:      plugin.CategoryStorage,
			Interfaces:    []string{store.InterfaceTag},
			CapabilityIDs: []string{cmn.SchemeMem},
			ReadyState:    plugin.Ready,
		}
		return resp, New(), nil
	})
}
