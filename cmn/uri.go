package cmn

import (
	"strings"
)

// Reserved storage schemes (spec §6). store.Registry may register
// additional schemes (e.g. the SPEC_FULL.md cloud backends "s3", "gs",
// "az") but these five are the ones spec.md names explicitly.
const (
	SchemeFile      = "file"
	SchemeMem       = "mem"
	SchemeMirror    = "mirror"
	SchemeGRPC      = "grpc"
	SchemeNet       = "net"
	SchemeSegmented = "seg"
	SchemeS3        = "s3"
	SchemeGS        = "gs"
	SchemeAZ        = "az"
	bckObjSepa      = "/"
	schemeSepa      = "://"
)

// BlobURI is the parsed form of "<scheme>://<containerId>/<blobName>".
// Kept as a struct rather than url.URL because blob names may legally
// contain characters url.URL would percent-encode (slashes included,
// for hierarchical object names).
type BlobURI struct {
	Scheme      string
	ContainerID string
	BlobName    string
}

func (u BlobURI) String() string {
	return u.Scheme + schemeSepa + u.ContainerID + bckObjSepa + u.BlobName
}

// MakeBlobURI builds the canonical URI for a (scheme, container, blob)
// triple (spec §4.9 step 3).
func MakeBlobURI(scheme, containerID, blobName string) string {
	return BlobURI{Scheme: scheme, ContainerID: containerID, BlobName: blobName}.String()
}

// ParseBlobURI parses "<scheme>://<containerId>/<blobName>". BlobName may
// itself contain "/" (e.g. "images/2024/a.png") so it is everything after
// the first separator past the container id.
func ParseBlobURI(raw string) (BlobURI, error) {
	parts := strings.SplitN(raw, schemeSepa, 2)
	if len(parts) != 2 || parts[0] == "" {
		return BlobURI{}, NewValidationFailed("malformed blob uri %q: missing scheme", raw)
	}
	scheme, rest := parts[0], parts[1]
	idx := strings.Index(rest, bckObjSepa)
	if idx < 0 || idx == 0 {
		return BlobURI{}, NewValidationFailed("malformed blob uri %q: missing container/blob", raw)
	}
	containerID, blobName := rest[:idx], rest[idx+1:]
	if containerID == "" || blobName == "" {
		return BlobURI{}, NewValidationFailed("malformed blob uri %q: empty container or blob name", raw)
	}
	return BlobURI{Scheme: scheme, ContainerID: containerID, BlobName: blobName}, nil
}

// ScopePath is the ACL/policy anchor for a blob: "containerId/blobName".
func ScopePath(containerID, blobName string) string {
	if blobName == "" {
		return containerID
	}
	return containerID + bckObjSepa + blobName
}

// ParentFolders yields the ancestor scope paths of path, narrowest first,
// e.g. "c/a/b/c.txt" -> ["c/a/b", "c/a", "c"]. Used by PolicyEnforcer's
// "parent folders upward" hierarchy (spec §4.6).
func ParentFolders(path string) []string {
	segs := strings.Split(path, bckObjSepa)
	var out []string
	for i := len(segs) - 1; i > 0; i-- {
		out = append(out, strings.Join(segs[:i], bckObjSepa))
	}
	return out
}

// ValidateContainerID rejects empty ids or ids containing the scheme or
// path separators, mirroring the teacher's bucket-name validation.
func ValidateContainerID(id string) error {
	if id == "" {
		return NewValidationFailed("container id must not be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return NewValidationFailed("container id %q must not contain a path separator", id)
	}
	return nil
}

// ValidateBlobName rejects empty names and path traversal components, the
// same guard store/local.Backend applies when resolving fqn.
func ValidateBlobName(name string) error {
	if name == "" {
		return NewValidationFailed("blob name must not be empty")
	}
	for _, seg := range strings.Split(name, bckObjSepa) {
		if seg == ".." {
			return NewValidationFailed("blob name %q must not contain '..'", name)
		}
	}
	return nil
}
