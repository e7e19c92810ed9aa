// Package segmented implements the segmented-disk StorageBackend (spec
// §4.2): storage as append-only 1 GiB segments, a 64-bit atomic pointer
// reserving byte ranges, and positional writes through per-segment file
// handles. Deletion is not supported; compaction is an out-of-scope
// offline job, per spec. Grounded on the teacher's memsys/mem2 slab
// allocator idiom (a monotonic offset reserved with an atomic add, then
// written into a fixed-size backing buffer) applied here to on-disk
// segments instead of in-memory slabs, and on fs.Mountpath's per-root
// concurrent-map-of-handles pattern for the cached segment files.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package segmented

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/store"
)

// DefaultSegmentSize is the 1 GiB segment size spec §4.2 names.
const DefaultSegmentSize = int64(1) << 30

type containerState struct {
	ptr     int64 // atomic: next free logical byte offset for this container
	handles sync.Map // segment id (int64) -> *os.File
}

type Backend struct {
	root       string
	segSize    int64
	containers sync.Map // containerID (string) -> *containerState
}

// interface guard
var _ store.Backend = (*Backend)(nil)

func New(root string) (*Backend, error) {
	return NewWithSegmentSize(root, DefaultSegmentSize)
}

func NewWithSegmentSize(root string, segSize int64) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Backend{root: abs, segSize: segSize}, nil
}

func (b *Backend) Scheme() string { return cmn.SchemeSegmented }

func (b *Backend) container(containerID string) *containerState {
	actual, _ := b.containers.LoadOrStore(containerID, &containerState{})
	return actual.(*containerState)
}

func (b *Backend) segmentFor(offset int64) (segID, localOff int64) {
	return offset / b.segSize, offset % b.segSize
}

func (b *Backend) openSegment(containerID string, cs *containerState, segID int64) (*os.File, error) {
	if v, ok := cs.handles.Load(segID); ok {
		return v.(*os.File), nil
	}
	dir := filepath.Join(b.root, containerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("seg-%020d.dat", segID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	actual, loaded := cs.handles.LoadOrStore(segID, f)
	if loaded {
		f.Close()
		return actual.(*os.File), nil
	}
	return f, nil
}

// Save buffers the full stream (the "single buffered copy" spec §4.2
// calls for when a write crosses a segment boundary), reserves a byte
// range with one atomic add, and positionally writes across as many
// segments as the reservation spans.
func (b *Backend) Save(ctx context.Context, uri cmn.BlobURI, r io.Reader) (string, int64, error) {
	if err := cmn.ValidateContainerID(uri.ContainerID); err != nil {
		return "", 0, err
	}
	if err := cmn.ValidateBlobName(uri.BlobName); err != nil {
		return "", 0, err
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	n := int64(len(buf))
	cs := b.container(uri.ContainerID)
	end := atomic.AddInt64(&cs.ptr, n)
	start := end - n

	remaining := buf
	offset := start
	for len(remaining) > 0 {
		segID, localOff := b.segmentFor(offset)
		capLeft := b.segSize - localOff
		chunkLen := int64(len(remaining))
		if chunkLen > capLeft {
			chunkLen = capLeft
		}
		f, err := b.openSegment(uri.ContainerID, cs, segID)
		if err != nil {
			return "", 0, err
		}
		if _, err := f.WriteAt(remaining[:chunkLen], localOff); err != nil {
			return "", 0, err
		}
		remaining = remaining[chunkLen:]
		offset += chunkLen
	}

	startSeg, startOff := b.segmentFor(start)
	resolved := composeURI(uri.ContainerID, uri.BlobName, startSeg, startOff, n)
	return resolved, n, nil
}

// Load opens a read-only stream bounded to [off, off+len) starting at
// segment seg, reading across as many subsequent segments as length
// requires. The reader uses the per-segment file handles cached in
// containerState, the same ones Save writes through; closing it leaves
// them open.
func (b *Backend) Load(ctx context.Context, uri cmn.BlobURI) (io.ReadCloser, error) {
	containerID, _, segID, off, length, err := parseSegURI(uri)
	if err != nil {
		return nil, err
	}
	return &segReader{b: b, containerID: containerID, segID: segID, off: off, remaining: length}, nil
}

// Delete is not supported for segmented storage; compaction that
// reclaims space is an offline job outside this repository's scope.
func (b *Backend) Delete(ctx context.Context, uri cmn.BlobURI) error {
	return cmn.NewValidationFailed("segmented backend does not support delete")
}

func (b *Backend) Exists(ctx context.Context, uri cmn.BlobURI) (bool, error) {
	containerID, _, segID, off, length, err := parseSegURI(uri)
	if err != nil {
		return false, err
	}
	path := filepath.Join(b.root, containerID, fmt.Sprintf("seg-%020d.dat", segID))
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Size() >= off+minInt64(length, b.segSize-off), nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

type segReader struct {
	b           *Backend
	containerID string
	segID       int64
	off         int64
	remaining   int64
	cur         *os.File
}

func (sr *segReader) Read(p []byte) (int, error) {
	if sr.remaining <= 0 {
		return 0, io.EOF
	}
	cs := sr.b.container(sr.containerID)
	if sr.cur == nil {
		f, err := sr.b.openSegment(sr.containerID, cs, sr.segID)
		if err != nil {
			return 0, err
		}
		sr.cur = f
	}
	capLeft := sr.b.segSize - sr.off
	max := int64(len(p))
	if max > sr.remaining {
		max = sr.remaining
	}
	if max > capLeft {
		max = capLeft
	}
	n, err := sr.cur.ReadAt(p[:max], sr.off)
	if n > 0 {
		sr.off += int64(n)
		sr.remaining -= int64(n)
		if sr.off >= sr.b.segSize {
			sr.segID++
			sr.off = 0
			sr.cur = nil
		}
		if err == io.EOF && sr.remaining > 0 {
			err = nil // short read mid-segment; not end of blob
		}
		return n, err
	}
	return n, err
}

func (sr *segReader) Close() error { return nil } // handles are owned by the container-wide cache

func composeURI(containerID, blobName string, segID, off, length int64) string {
	q := url.Values{}
	q.Set("seg", strconv.FormatInt(segID, 10))
	q.Set("off", strconv.FormatInt(off, 10))
	q.Set("len", strconv.FormatInt(length, 10))
	return cmn.SchemeSegmented + "://" + containerID + "/" + blobName + "?" + q.Encode()
}

// parseSegURI extracts (containerID, blobName, segID, off, len) from a
// BlobURI whose BlobName carries the "<name>?seg=<id>&off=<o>&len=<l>"
// suffix composeURI produced.
func parseSegURI(uri cmn.BlobURI) (containerID, blobName string, segID, off, length int64, err error) {
	name, rawQuery, hasQuery := strings.Cut(uri.BlobName, "?")
	if !hasQuery {
		return "", "", 0, 0, 0, cmn.NewValidationFailed("segmented uri %s missing seg/off/len query", uri)
	}
	q, perr := url.ParseQuery(rawQuery)
	if perr != nil {
		return "", "", 0, 0, 0, cmn.NewValidationFailed("segmented uri %s has malformed query: %v", uri, perr)
	}
	segID, e1 := strconv.ParseInt(q.Get("seg"), 10, 64)
	off, e2 := strconv.ParseInt(q.Get("off"), 10, 64)
	length, e3 := strconv.ParseInt(q.Get("len"), 10, 64)
	if e1 != nil || e2 != nil || e3 != nil {
		return "", "", 0, 0, 0, cmn.NewValidationFailed("segmented uri %s has non-numeric seg/off/len", uri)
	}
	return uri.ContainerID, name, segID, off, length, nil
}

// Factory adapts New into a plugin.Factory.
func Factory(root string) plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		b, err := New(root)
		if err != nil {
			return plugin.HandshakeResponse{}, nil, err
		}
		resp := plugin.HandshakeResponse{
			ID:            "store.segmented",
			Name:          "segmented-disk storage backend",
			Version:       "1.0.0",
			Category:      plugin.CategoryStorage,
			Interfaces:    []string{store.InterfaceTag},
			CapabilityIDs: []string{cmn.SchemeSegmented},
			ReadyState:    plugin.Ready,
		}
		return resp, b, nil
	})
}
