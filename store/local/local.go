// Package local implements the local-disk StorageBackend (spec §4.2):
// atomic tmp+rename writes, shared-read reads, and a path-traversal
// guard that refuses any resolution escaping the configured root.
// Grounded on the teacher's fs.Mountpath-rooted path resolution
// (fs/mountfs.go resolves every FQN against a mountpath root the same
// way) and cmn/jsp's atomic-write idiom, reused here via cmn/cos.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/karrick/godirwalk"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/cmn/cos"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/store"
)

type Backend struct {
	root string
}

// interface guards
var (
	_ store.Backend = (*Backend)(nil)
	_ store.Lister  = (*Backend)(nil)
)

func New(root string) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Backend{root: abs}, nil
}

func (b *Backend) Scheme() string { return cmn.SchemeFile }

// resolve maps a BlobURI to an absolute path under root, refusing any
// result that would land outside root after cleaning (spec §4.2's
// path-traversal guard).
func (b *Backend) resolve(uri cmn.BlobURI) (string, error) {
	if err := cmn.ValidateContainerID(uri.ContainerID); err != nil {
		return "", err
	}
	if err := cmn.ValidateBlobName(uri.BlobName); err != nil {
		return "", err
	}
	full := filepath.Join(b.root, uri.ContainerID, uri.BlobName)
	full = filepath.Clean(full)
	if full != b.root && !strings.HasPrefix(full, b.root+string(filepath.Separator)) {
		return "", cmn.NewValidationFailed("path escapes storage root: %s", uri)
	}
	return full, nil
}

func (b *Backend) Save(ctx context.Context, uri cmn.BlobURI, r io.Reader) (string, int64, error) {
	path, err := b.resolve(uri)
	if err != nil {
		return "", 0, err
	}
	tmp := path + ".tmp." + cmn.GenShortID()
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		cos.Close(f)
		if rmErr := cos.RemoveFile(tmp); rmErr != nil {
			glog.Errorf("nested (%v): failed to remove %s: %v", err, tmp, rmErr)
		}
		return "", 0, err
	}
	if err := cos.FlushClose(f); err != nil {
		return "", 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", 0, err
	}
	return uri.String(), n, nil
}

func (b *Backend) Load(ctx context.Context, uri cmn.BlobURI) (io.ReadCloser, error) {
	path, err := b.resolve(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) // default open mode allows concurrent shared readers
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cmn.NewNotFound("blob not found: %s", uri)
		}
		return nil, err
	}
	return f, nil
}

func (b *Backend) Delete(ctx context.Context, uri cmn.BlobURI) error {
	path, err := b.resolve(uri)
	if err != nil {
		return err
	}
	return cos.RemoveFile(path)
}

func (b *Backend) Exists(ctx context.Context, uri cmn.BlobURI) (bool, error) {
	path, err := b.resolve(uri)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List walks root with godirwalk (DataVacuum's domain dependency, spec
// §4.11) and reconstructs a BlobURI for every regular file found,
// skipping in-flight ".tmp.<tie>" siblings so a vacuum pass never races
// an in-progress Save.
func (b *Backend) List(ctx context.Context) ([]store.ListEntry, error) {
	var out []store.ListEntry
	err := godirwalk.Walk(b.root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || strings.Contains(filepath.Base(path), ".tmp.") {
				return nil
			}
			rel, err := filepath.Rel(b.root, path)
			if err != nil {
				return err
			}
			segs := strings.SplitN(filepath.ToSlash(rel), "/", 2)
			if len(segs) != 2 {
				return nil // stray file directly under root, not a container/blob pair
			}
			fi, err := os.Stat(path)
			if err != nil {
				return nil // vanished between walk and stat; next pass will settle it
			}
			out = append(out, store.ListEntry{
				URI:       cmn.MakeBlobURI(cmn.SchemeFile, segs[0], segs[1]),
				SizeBytes: fi.Size(),
			})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Factory adapts New into a plugin.Factory so the kernel can admit a
// local-disk backend through the same handshake path as every other
// plugin.
func Factory(root string) plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		b, err := New(root)
		if err != nil {
			return plugin.HandshakeResponse{}, nil, err
		}
		resp := plugin.HandshakeResponse{
			ID:            "store.local",
			Name:          "local-disk storage backend",
			Version:       "1.0.0",
			Category:      plugin.CategoryStorage,
			Interfaces:    []string{store.InterfaceTag},
			CapabilityIDs: []string{cmn.SchemeFile},
			ReadyState:    plugin.Ready,
		}
		return resp, b, nil
	})
}
