package pipeline

import (
	"context"
	"io"

	"github.com/kilnstore/kiln/access"
	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/sentinel"
	"github.com/kilnstore/kiln/transform"
)

// GetBlob is the read half of PipelineEngine (spec §4.9).
func (e *Engine) GetBlob(ctx context.Context, sec cmn.SecurityContext, containerID, blobName string) (io.ReadCloser, error) {
	scope := cmn.ScopePath(containerID, blobName)
	if !e.Access.HasAccess(scope, sec.UserID, access.Read) {
		return nil, cmn.NewUnauthorized("%s: read denied for %s", scope, sec.UserID)
	}

	scheme := e.DefaultScheme
	if scheme == "" {
		scheme = cmn.SchemeFile
	}
	blobURI := cmn.MakeBlobURI(scheme, containerID, blobName)

	manifest, found, err := e.Index.GetManifestByURI(blobURI)
	if err != nil {
		return nil, cmn.NewInternal("", err, "%s: index lookup failed", scope)
	}
	if !found {
		cfg := e.Policy.Resolve(containerID, blobName)
		manifest = &cmn.Manifest{
			ID:          cmn.GenManifestID(),
			ContainerID: containerID,
			BlobURI:     blobURI,
			OwnerID:     sec.UserID,
			Pipeline:    cfg,
		}
	}

	judgment, err := e.Sentinel.Evaluate(ctx, sentinel.Context{
		Trigger:     sentinel.OnRead,
		Metadata:    manifest,
		UserContext: sec,
	})
	if err != nil {
		return nil, cmn.NewInternal("", err, "sentinel evaluation failed for %s", scope)
	}
	if judgment.BlockOperation {
		code := ""
		msg := "read blocked by governance"
		if judgment.Alert != nil {
			code = judgment.Alert.Code
			msg = judgment.Alert.Message
		}
		return nil, cmn.NewGovernance(code, "%s: %s", scope, msg)
	}

	backend, err := e.backend(scheme)
	if err != nil {
		return nil, err
	}
	parsedURI, err := cmn.ParseBlobURI(manifest.BlobURI)
	if err != nil {
		return nil, err
	}
	raw, err := backend.Load(ctx, parsedURI)
	if err != nil {
		return nil, cmn.NewInternal("", err, "%s: storage load failed", scope)
	}

	runtimeArgs := transform.RuntimeArgs{Owner: sec.UserID, Tenant: sec.Tenant, ContextID: manifest.ID}
	if manifest.Pipeline.EnableEncryption {
		key, err := e.Keys.Get(manifest.Pipeline.KeyID)
		if err != nil {
			raw.Close()
			return nil, err
		}
		runtimeArgs.Key = key
	}

	stream := io.ReadCloser(raw)
	for i := len(manifest.Pipeline.TransformationOrder) - 1; i >= 0; i-- {
		step := manifest.Pipeline.TransformationOrder[i]
		t, err := e.transformFor(step, manifest.Pipeline)
		if err != nil {
			stream.Close()
			return nil, err
		}
		next, err := t.OnRead(ctx, stream, runtimeArgs)
		if err != nil {
			stream.Close()
			return nil, cmn.NewInternal("", err, "%s: transformation %s failed", scope, step)
		}
		stream = &chainedReadCloser{ReadCloser: next, prev: stream}
	}

	if found {
		if err := e.Index.UpdateLastAccess(manifest.ID, e.now()); err != nil {
			// last-access bookkeeping failure is not a read failure
			manifest.LastAccessedAt = e.now()
		}
	}
	return stream, nil
}

// chainedReadCloser closes the transformation stage that produced it and
// then its upstream stream, so GetBlob's reversed transformation chain
// releases every intermediate stage regardless of where the caller stops
// reading (spec §4.9 step 6: "the engine owns the lifecycle of every
// intermediate stream").
type chainedReadCloser struct {
	io.ReadCloser
	prev io.Closer
}

func (c *chainedReadCloser) Close() error {
	err := c.ReadCloser.Close()
	if prevErr := c.prev.Close(); err == nil {
		err = prevErr
	}
	return err
}
