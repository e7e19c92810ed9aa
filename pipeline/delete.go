package pipeline

import (
	"context"

	"github.com/kilnstore/kiln/access"
	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/sentinel"
)

// Delete removes a blob and its manifest (spec §6). The sentinel is
// consulted with OnDelete so a governance module can veto deletion (e.g.
// a legal hold), mirroring the OnWrite/OnRead gating StoreBlob/GetBlob
// already apply.
func (e *Engine) Delete(ctx context.Context, sec cmn.SecurityContext, containerID, blobName string) error {
	scope := cmn.ScopePath(containerID, blobName)
	if !e.Access.HasAccess(scope, sec.UserID, access.Delete) {
		return cmn.NewUnauthorized("%s: delete denied for %s", scope, sec.UserID)
	}

	scheme := e.DefaultScheme
	if scheme == "" {
		scheme = cmn.SchemeFile
	}
	blobURI := cmn.MakeBlobURI(scheme, containerID, blobName)

	manifest, found, err := e.Index.GetManifestByURI(blobURI)
	if err != nil {
		return cmn.NewInternal("", err, "%s: index lookup failed", scope)
	}
	if !found {
		return cmn.NewNotFound("%s: no manifest indexed", scope)
	}

	judgment, err := e.Sentinel.Evaluate(ctx, sentinel.Context{
		Trigger:     sentinel.OnDelete,
		Metadata:    manifest,
		UserContext: sec,
	})
	if err != nil {
		return cmn.NewInternal("", err, "sentinel evaluation failed for %s", scope)
	}
	if judgment.BlockOperation {
		code := ""
		msg := "delete blocked by governance"
		if judgment.Alert != nil {
			code = judgment.Alert.Code
			msg = judgment.Alert.Message
		}
		return cmn.NewGovernance(code, "%s: %s", scope, msg)
	}

	backend, err := e.backend(scheme)
	if err != nil {
		return err
	}
	parsedURI, err := cmn.ParseBlobURI(manifest.BlobURI)
	if err != nil {
		return err
	}
	if err := backend.Delete(ctx, parsedURI); err != nil {
		return cmn.NewInternal("", err, "%s: storage delete failed", scope)
	}
	if err := e.Index.DeleteManifest(manifest.ID); err != nil {
		return cmn.NewIndexingFailed(err, "%s: blob deleted but manifest %s still indexed; retry", scope, manifest.ID)
	}
	return nil
}
