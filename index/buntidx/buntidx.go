// Package buntidx is the "SQL-backed" MetadataIndex reference
// implementation spec §4.4 describes: schema
// (key TEXT PRIMARY KEY, metadata_json TEXT, indexed_at TEXT,
// updated_at TEXT) with secondary indexes on the timestamps. Built on
// tidwall/buntdb, an embedded, persistent, indexed key-value store —
// close enough in shape to the spec's schema (a JSON blob plus indexed
// timestamp columns) that buntdb's own JSON-path indexing does the
// secondary-index work directly, rather than hand-rolling a SQL
// driver the teacher has no equivalent dependency for.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package buntidx

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/index"
	"github.com/kilnstore/kiln/plugin"
)

// scored pairs a manifest id with its Search match score.
type scored struct {
	id    string
	score int
}

var jsonapi = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	idxIndexedAt = "indexed_at"
	idxUpdatedAt = "updated_at"
	uriKeyPrefix = "uri:"
)

// Index is the buntdb-backed MetadataIndex.
type Index struct {
	db *buntdb.DB
}

// interface guard
var _ index.MetadataIndex = (*Index)(nil)

// Open opens (or creates) the buntdb file at path and installs the
// indexed_at/updated_at secondary indexes spec §4.4 names.
func Open(path string) (*Index, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.CreateIndex(idxIndexedAt, "*", buntdb.IndexJSON("created_at")); err != nil && err != buntdb.ErrIndexExists {
		return nil, err
	}
	if err := db.CreateIndex(idxUpdatedAt, "*", buntdb.IndexJSON("last_accessed_at")); err != nil && err != buntdb.ErrIndexExists {
		return nil, err
	}
	return &Index{db: db}, nil
}

func (idx *Index) IndexManifest(m *cmn.Manifest) error {
	raw, err := jsonapi.Marshal(m)
	if err != nil {
		return err
	}
	return idx.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(m.ID, string(raw), nil); err != nil {
			return err
		}
		_, _, err := tx.Set(uriKeyPrefix+m.BlobURI, m.ID, nil)
		return err
	})
}

func (idx *Index) GetManifest(id string) (*cmn.Manifest, bool, error) {
	var m cmn.Manifest
	found := false
	err := idx.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(id)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return jsonapi.Unmarshal([]byte(val), &m)
	})
	if err != nil || !found {
		return nil, found, err
	}
	return &m, true, nil
}

// GetManifestByURI looks up a manifest by its persisted BlobURI, via the
// "uri:<BlobUri>" -> id secondary mapping IndexManifest maintains.
func (idx *Index) GetManifestByURI(uri string) (*cmn.Manifest, bool, error) {
	var id string
	found := false
	err := idx.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(uriKeyPrefix + uri)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found, id = true, val
		return nil
	})
	if err != nil || !found {
		return nil, found, err
	}
	return idx.GetManifest(id)
}

// DeleteManifest removes id's row and its "uri:" secondary-index row.
// Deleting an absent id is a no-op.
func (idx *Index) DeleteManifest(id string) error {
	m, found, err := idx.GetManifest(id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return idx.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(id); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		if _, err := tx.Delete(uriKeyPrefix + m.BlobURI); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
}

func (idx *Index) UpdateLastAccess(id string, ts int64) error {
	m, ok, err := idx.GetManifest(id)
	if err != nil {
		return err
	}
	if !ok {
		return cmn.NewNotFound("manifest %s not indexed", id)
	}
	m.LastAccessedAt = ts
	return idx.IndexManifest(m)
}

type cursor struct {
	items []*cmn.Manifest
	pos   int
}

func (c *cursor) Next() (*cmn.Manifest, bool, error) {
	if c.pos >= len(c.items) {
		return nil, false, nil
	}
	m := c.items[c.pos]
	c.pos++
	return m, true, nil
}

func (c *cursor) Close() error { c.pos = 0; return nil }

// EnumerateAll takes a weakly-consistent snapshot under a single buntdb
// view transaction (spec §4.4's "every live manifest... at least once
// per pass").
func (idx *Index) EnumerateAll() (index.Cursor, error) {
	var items []*cmn.Manifest
	err := idx.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, val string) bool {
			if strings.HasPrefix(key, uriKeyPrefix) {
				return true // secondary uri->id mapping, not a manifest row
			}
			var m cmn.Manifest
			if jsonErr := jsonapi.Unmarshal([]byte(val), &m); jsonErr == nil {
				items = append(items, &m)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return &cursor{items: items}, nil
}

// ExecuteQuery scans every manifest row in primary-key order, decodes it
// and applies index.EvaluateQuery, the same predicate evaluation the
// in-memory implementation uses but sourced from buntdb rather than a
// map. Predicates are evaluated against the decoded manifest fields; no
// substring match over the stored JSON text is made.
func (idx *Index) ExecuteQuery(q index.CompositeQuery, limit int) ([]string, error) {
	var ids []string
	err := idx.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, val string) bool {
			if strings.HasPrefix(key, uriKeyPrefix) {
				return true
			}
			var m cmn.Manifest
			if jsonErr := jsonapi.Unmarshal([]byte(val), &m); jsonErr != nil {
				return true
			}
			if index.EvaluateQuery(m, q) {
				ids = append(ids, m.ID)
				if limit > 0 && len(ids) >= limit {
					return false
				}
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Search ranks by substring match count over ContentSummary/Tags, same
// deterministic tie-break as index/memidx (SPEC_FULL.md §5 decision 2):
// descending score, ascending Manifest.Id.
func (idx *Index) Search(text string, vector []float32, limit int) ([]string, error) {
	var candidates []scored
	needle := strings.ToLower(text)

	err := idx.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, val string) bool {
			if strings.HasPrefix(key, uriKeyPrefix) {
				return true
			}
			var m cmn.Manifest
			if jsonErr := jsonapi.Unmarshal([]byte(val), &m); jsonErr != nil {
				return true
			}
			score := 0
			if needle != "" {
				score = strings.Count(strings.ToLower(m.ContentSummary), needle)
				for _, v := range m.Tags {
					score += strings.Count(strings.ToLower(v), needle)
				}
			}
			if score > 0 || needle == "" {
				candidates = append(candidates, scored{id: m.ID, score: score})
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}

	sortByScoreThenID(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out, nil
}

func sortByScoreThenID(c []scored) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0; j-- {
			a, b := c[j-1], c[j]
			if a.score > b.score || (a.score == b.score && a.id <= b.id) {
				break
			}
			c[j-1], c[j] = c[j], c[j-1]
		}
	}
}

// Close releases the underlying buntdb handle.
func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) String() string { return fmt.Sprintf("buntidx(%p)", idx.db) }

// Factory adapts Open into a plugin.Factory.
func Factory(path string) plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		idx, err := Open(path)
		if err != nil {
			return plugin.HandshakeResponse{}, nil, err
		}
		resp := plugin.HandshakeResponse{
			ID:            "index.bunt",
			Name:          "buntdb-backed metadata index",
			Version:       "1.0.0",
			Category:      plugin.CategoryMetadata,
			Interfaces:    []string{index.InterfaceTag},
			CapabilityIDs: []string{"index.bunt"},
			ReadyState:    plugin.Ready,
		}
		return resp, idx, nil
	})
}
