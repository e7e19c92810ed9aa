// Package memidx is the in-memory MetadataIndex reference
// implementation (spec §4.4, "laptop mode"). Grounded on the teacher's
// cluster.LOM in-memory cache keyed by object name, generalized from a
// single-field cache to the full Manifest record plus a secondary
// index by BlobURI and ExecuteQuery/Search support.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package memidx

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/index"
	"github.com/kilnstore/kiln/plugin"
)

type Index struct {
	mu       sync.RWMutex
	byID     map[string]*cmn.Manifest
	byURI    map[string]string // BlobURI string -> Manifest.Id
}

// interface guard
var _ index.MetadataIndex = (*Index)(nil)

func New() *Index {
	return &Index{byID: make(map[string]*cmn.Manifest), byURI: make(map[string]string)}
}

func (idx *Index) IndexManifest(m *cmn.Manifest) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	clone := m.Clone()
	idx.byID[clone.ID] = clone
	idx.byURI[clone.BlobURI] = clone.ID
	return nil
}

func (idx *Index) GetManifest(id string) (*cmn.Manifest, bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.byID[id]
	if !ok {
		return nil, false, nil
	}
	return m.Clone(), true, nil
}

// GetManifestByURI looks up a manifest by its persisted BlobURI, the
// secondary index spec §4.4's IndexManifest upserts alongside the
// primary by-Id index.
func (idx *Index) GetManifestByURI(uri string) (*cmn.Manifest, bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.byURI[uri]
	if !ok {
		return nil, false, nil
	}
	m, ok := idx.byID[id]
	if !ok {
		return nil, false, nil
	}
	return m.Clone(), true, nil
}

// DeleteManifest removes m.Id and its URI secondary-index entry. Deleting
// an absent id is a no-op, matching store.Backend.Delete's idempotence.
func (idx *Index) DeleteManifest(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.byID[id]
	if !ok {
		return nil
	}
	delete(idx.byID, id)
	delete(idx.byURI, m.BlobURI)
	return nil
}

func (idx *Index) UpdateLastAccess(id string, ts int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.byID[id]
	if !ok {
		return cmn.NewNotFound("manifest %s not indexed", id)
	}
	m.LastAccessedAt = ts
	return nil
}

// EnumerateAll takes a weakly-consistent snapshot under RLock and
// returns a cursor over it, so callers iterating a long pass never
// block writers nor see a torn map.
func (idx *Index) EnumerateAll() (index.Cursor, error) {
	idx.mu.RLock()
	snap := make([]*cmn.Manifest, 0, len(idx.byID))
	for _, m := range idx.byID {
		snap = append(snap, m.Clone())
	}
	idx.mu.RUnlock()
	return &sliceCursor{items: snap}, nil
}

type sliceCursor struct {
	items []*cmn.Manifest
	pos   int
}

func (c *sliceCursor) Next() (*cmn.Manifest, bool, error) {
	if c.pos >= len(c.items) {
		return nil, false, nil
	}
	m := c.items[c.pos]
	c.pos++
	return m, true, nil
}

func (c *sliceCursor) Close() error { c.pos = 0; return nil }

func (idx *Index) ExecuteQuery(q index.CompositeQuery, limit int) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var ids []string
	for id, m := range idx.byID {
		if index.EvaluateQuery(m, q) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Search ranks manifests by a simple term-frequency score over
// ContentSummary and Tags, plus cosine similarity against vector when
// supplied, then breaks ties deterministically per SPEC_FULL.md §5
// decision 2: descending score, ascending Manifest.Id.
func (idx *Index) Search(text string, vector []float32, limit int) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	needle := strings.ToLower(text)
	for id, m := range idx.byID {
		score := termScore(m, needle)
		if len(vector) > 0 && len(m.VectorEmbedding) > 0 {
			score += cosineSimilarity(vector, m.VectorEmbedding)
		}
		if score > 0 || needle == "" {
			candidates = append(candidates, scored{id: id, score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out, nil
}

func termScore(m *cmn.Manifest, needle string) float64 {
	if needle == "" {
		return 0
	}
	score := float64(strings.Count(strings.ToLower(m.ContentSummary), needle))
	for _, v := range m.Tags {
		score += float64(strings.Count(strings.ToLower(v), needle))
	}
	return score
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Factory adapts New into a plugin.Factory.
func Factory() plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		resp := plugin.HandshakeResponse{
			ID:            "index.mem",
			Name:          "in-memory metadata index",
			Version:       "1.0.0",
			Category:      plugin.CategoryMetadata,
			Interfaces:    []string{index.InterfaceTag},
			CapabilityIDs: []string{"index.mem"},
			ReadyState:    plugin.Ready,
		}
		return resp, New(), nil
	})
}
