package cloud

import (
	"bytes"
	"context"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/store"
)

type AZBackend struct {
	pipeline  pipeline
	accountURL string
}

type pipeline = azblob.Pipeline

type AZConfig struct {
	Account string
	Key     string
}

// interface guard
var _ store.Backend = (*AZBackend)(nil)

func NewAZ(cfg AZConfig) (*AZBackend, error) {
	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.Key)
	if err != nil {
		return nil, err
	}
	p := azblob.NewPipeline(cred, azblob.PipelineOptions{})
	return &AZBackend{pipeline: p, accountURL: "https://" + cfg.Account + ".blob.core.windows.net"}, nil
}

func (b *AZBackend) Scheme() string { return cmn.SchemeAZ }

func (b *AZBackend) blockBlobURL(uri cmn.BlobURI) (azblob.BlockBlobURL, error) {
	u, err := url.Parse(b.accountURL + "/" + uri.ContainerID)
	if err != nil {
		return azblob.BlockBlobURL{}, err
	}
	containerURL := azblob.NewContainerURL(*u, b.pipeline)
	return containerURL.NewBlockBlobURL(uri.BlobName), nil
}

func (b *AZBackend) Save(ctx context.Context, uri cmn.BlobURI, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	blobURL, err := b.blockBlobURL(uri)
	if err != nil {
		return "", 0, err
	}
	_, err = blobURL.Upload(ctx, bytes.NewReader(data), azblob.BlobHTTPHeaders{}, azblob.Metadata{},
		azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, azblob.BlobTagsMap{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return "", 0, cmn.NewUnavailable("az backend: upload %s: %v", uri, err)
	}
	return uri.String(), int64(len(data)), nil
}

func (b *AZBackend) Load(ctx context.Context, uri cmn.BlobURI) (io.ReadCloser, error) {
	blobURL, err := b.blockBlobURL(uri)
	if err != nil {
		return nil, err
	}
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, cmn.NewNotFound("blob not found: %s", uri)
		}
		return nil, cmn.NewUnavailable("az backend: download %s: %v", uri, err)
	}
	return resp.Body(azblob.RetryReaderOptions{}), nil
}

func (b *AZBackend) Delete(ctx context.Context, uri cmn.BlobURI) error {
	blobURL, err := b.blockBlobURL(uri)
	if err != nil {
		return err
	}
	_, err = blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil
		}
		return cmn.NewUnavailable("az backend: delete %s: %v", uri, err)
	}
	return nil
}

func (b *AZBackend) Exists(ctx context.Context, uri cmn.BlobURI) (bool, error) {
	blobURL, err := b.blockBlobURL(uri)
	if err != nil {
		return false, err
	}
	_, err = blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err == nil {
		return true, nil
	}
	if stgErr, ok := err.(azblob.StorageError); ok && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		return false, nil
	}
	return false, cmn.NewUnavailable("az backend: stat %s: %v", uri, err)
}

// FactoryAZ adapts NewAZ into a plugin.Factory.
func FactoryAZ(cfg AZConfig) plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		b, err := NewAZ(cfg)
		if err != nil {
			return plugin.HandshakeResponse{}, nil, err
		}
		resp := plugin.HandshakeResponse{
			ID:            "store.az",
			Name:          "Azure Blob Storage backend",
			Version:       "1.0.0",
			Category:      plugin.CategoryStorage,
			Interfaces:    []string{store.InterfaceTag},
			CapabilityIDs: []string{cmn.SchemeAZ},
			ReadyState:    plugin.Ready,
		}
		return resp, b, nil
	})
}
