package cloud

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/store"
)

type GSBackend struct {
	client *storage.Client
}

// interface guard
var _ store.Backend = (*GSBackend)(nil)

func NewGS(ctx context.Context) (*GSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GSBackend{client: client}, nil
}

func (b *GSBackend) Scheme() string { return cmn.SchemeGS }

func (b *GSBackend) object(uri cmn.BlobURI) *storage.ObjectHandle {
	return b.client.Bucket(uri.ContainerID).Object(uri.BlobName)
}

func (b *GSBackend) Save(ctx context.Context, uri cmn.BlobURI, r io.Reader) (string, int64, error) {
	w := b.object(uri).NewWriter(ctx)
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return "", 0, cmn.NewUnavailable("gs backend: write %s: %v", uri, err)
	}
	if err := w.Close(); err != nil {
		return "", 0, cmn.NewUnavailable("gs backend: finalize %s: %v", uri, err)
	}
	return uri.String(), n, nil
}

func (b *GSBackend) Load(ctx context.Context, uri cmn.BlobURI) (io.ReadCloser, error) {
	r, err := b.object(uri).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, cmn.NewNotFound("blob not found: %s", uri)
		}
		return nil, cmn.NewUnavailable("gs backend: read %s: %v", uri, err)
	}
	return r, nil
}

func (b *GSBackend) Delete(ctx context.Context, uri cmn.BlobURI) error {
	err := b.object(uri).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return cmn.NewUnavailable("gs backend: delete %s: %v", uri, err)
	}
	return nil
}

func (b *GSBackend) Exists(ctx context.Context, uri cmn.BlobURI) (bool, error) {
	_, err := b.object(uri).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, cmn.NewUnavailable("gs backend: stat %s: %v", uri, err)
}

// FactoryGS adapts NewGS into a plugin.Factory.
func FactoryGS() plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		b, err := NewGS(context.Background())
		if err != nil {
			return plugin.HandshakeResponse{}, nil, err
		}
		resp := plugin.HandshakeResponse{
			ID:            "store.gs",
			Name:          "Google Cloud Storage backend",
			Version:       "1.0.0",
			Category:      plugin.CategoryStorage,
			Interfaces:    []string{store.InterfaceTag},
			CapabilityIDs: []string{cmn.SchemeGS},
			ReadyState:    plugin.Ready,
		}
		return resp, b, nil
	})
}
