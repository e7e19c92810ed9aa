package pipeline

import (
	"context"
	"io"

	"github.com/kilnstore/kiln/access"
	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/cmn/cos"
	"github.com/kilnstore/kiln/sentinel"
	"github.com/kilnstore/kiln/transform"
)

// StoreBlob is the write half of PipelineEngine (spec §4.9).
func (e *Engine) StoreBlob(ctx context.Context, sec cmn.SecurityContext, containerID, blobName string, data io.Reader) (string, error) {
	scope := cmn.ScopePath(containerID, blobName)
	if !e.Access.HasAccess(scope, sec.UserID, access.Write) {
		return "", cmn.NewUnauthorized("%s: write denied for %s", scope, sec.UserID)
	}

	cfg := e.Policy.Resolve(containerID, blobName)

	scheme := e.DefaultScheme
	if scheme == "" {
		scheme = cmn.SchemeFile
	}
	manifest := &cmn.Manifest{
		ID:          cmn.GenManifestID(),
		ContainerID: containerID,
		BlobURI:     cmn.MakeBlobURI(scheme, containerID, blobName),
		OwnerID:     sec.UserID,
		Pipeline:    cfg,
		CreatedAt:   e.now(),
	}

	_, inputSeekable := data.(io.Seeker)
	seekable, err := seekableCopy(data)
	if err != nil {
		return "", cmn.NewInternal("", err, "buffering write stream for %s", scope)
	}
	if inputSeekable {
		n, err := seekable.Seek(0, io.SeekEnd)
		if err != nil {
			return "", cmn.NewInternal("", err, "measuring plaintext length for %s", scope)
		}
		if _, err := seekable.Seek(0, io.SeekStart); err != nil {
			return "", cmn.NewInternal("", err, "rewinding write stream for %s", scope)
		}
		manifest.SizeBytes = n
	}

	judgment, err := e.Sentinel.Evaluate(ctx, sentinel.Context{
		Trigger:     sentinel.OnWrite,
		Metadata:    manifest,
		DataStream:  seekable,
		UserContext: sec,
	})
	if err != nil {
		return "", cmn.NewInternal("", err, "sentinel evaluation failed for %s", scope)
	}
	if judgment.BlockOperation {
		code := ""
		msg := "write blocked by governance"
		if judgment.Alert != nil {
			code = judgment.Alert.Code
			msg = judgment.Alert.Message
		}
		return "", cmn.NewGovernance(code, "%s: %s", scope, msg)
	}
	if judgment.EnforcePipeline != nil {
		manifest.Pipeline = *judgment.EnforcePipeline
	}
	for k, v := range judgment.AddTags {
		manifest.SetGovernanceTag(k, v)
	}
	applyProperties(manifest, judgment.UpdateProperties)

	if manifest.Pipeline.EnableEncryption && manifest.Pipeline.KeyID == "" {
		if e.DefaultKeyID == "" {
			return "", cmn.NewValidationFailed("%s: pipeline forces encryption but no default key is configured", scope)
		}
		manifest.Pipeline.KeyID = e.DefaultKeyID
	}

	if _, err := seekable.Seek(0, io.SeekStart); err != nil {
		return "", cmn.NewInternal("", err, "rewinding write stream for %s", scope)
	}

	runtimeArgs := transform.RuntimeArgs{Owner: sec.UserID, Tenant: sec.Tenant, ContextID: manifest.ID}
	if manifest.Pipeline.EnableEncryption {
		key, err := e.Keys.Get(manifest.Pipeline.KeyID)
		if err != nil {
			return "", err
		}
		runtimeArgs.Key = key
	}

	tee := cos.NewHashingTee(seekable)
	var stream io.Reader = tee
	var closers []io.Closer

	for _, step := range manifest.Pipeline.TransformationOrder {
		t, err := e.transformFor(step, manifest.Pipeline)
		if err != nil {
			closeAll(closers)
			return "", err
		}
		out, err := t.OnWrite(ctx, stream, runtimeArgs)
		if err != nil {
			closeAll(closers)
			return "", cmn.NewInternal("", err, "%s: transformation %s failed", scope, step)
		}
		closers = append(closers, out)
		stream = out
	}

	backend, err := e.backend(scheme)
	if err != nil {
		closeAll(closers)
		return "", err
	}
	blobURI, err := cmn.ParseBlobURI(manifest.BlobURI)
	if err != nil {
		closeAll(closers)
		return "", err
	}
	resolvedURI, sizeBytes, err := backend.Save(ctx, blobURI, stream)
	closeAll(closers)
	if err != nil {
		return "", cmn.NewInternal("", err, "%s: storage save failed", scope)
	}
	manifest.BlobURI = resolvedURI
	if manifest.SizeBytes == 0 {
		manifest.SizeBytes = sizeBytes
	}
	manifest.Checksum = tee.Sum()

	if err := e.Index.IndexManifest(manifest); err != nil {
		return manifest.ID, cmn.NewIndexingFailed(err, "%s: manifest %s persisted but not indexed; retry indexing", scope, manifest.ID)
	}
	return manifest.ID, nil
}
