// Package index defines MetadataIndex (spec §4.4, C4): persistence and
// querying of Manifest records by key, predicate, and full enumeration.
// Two reference implementations live in subpackages: index/memidx (an
// in-memory map, for laptop mode) and index/buntidx (the "SQL-backed"
// variant, built on tidwall/buntdb). Grounded on the teacher's
// cluster.LOM cache, which plays the analogous role of an in-process
// object-metadata cache keyed by name with a parallel on-disk
// representation.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package index

import (
	"github.com/kilnstore/kiln/cmn"
)

// InterfaceTag is the plugin.Registry interface tag MetadataIndex
// implementations advertise.
const InterfaceTag = "index.MetadataIndex"

// Operator is a predicate comparison operator (spec §4.4).
type Operator string

const (
	OpEqual    Operator = "=="
	OpNotEqual Operator = "!="
	OpContains Operator = "CONTAINS"
	OpGreater  Operator = ">"
	OpLess     Operator = "<"
)

// Logic joins predicates within a CompositeQuery.
type Logic string

const (
	LogicAND Logic = "AND"
	LogicOR  Logic = "OR"
)

// Predicate matches a single Manifest field.
type Predicate struct {
	Field    string
	Operator Operator
	Value    string
}

// CompositeQuery is the predicate grammar ExecuteQuery accepts.
type CompositeQuery struct {
	Predicates []Predicate
	Logic      Logic
}

// Cursor is a restartable, weakly-consistent enumeration of every live
// manifest (spec §4.4: "every live manifest is observed at least once
// per pass", insertion order not guaranteed).
type Cursor interface {
	Next() (*cmn.Manifest, bool, error)
	Close() error
}

// MetadataIndex is the uniform persistence/query contract.
type MetadataIndex interface {
	IndexManifest(m *cmn.Manifest) error
	GetManifest(id string) (*cmn.Manifest, bool, error)
	// GetManifestByURI looks up the manifest indexed under the given
	// BlobUri (spec §4.9's GetBlob step 2: callers address a blob by
	// container/name, which resolves to a BlobUri, not a manifest id).
	GetManifestByURI(uri string) (*cmn.Manifest, bool, error)
	// DeleteManifest removes a manifest and its URI secondary index entry
	// (spec §6's Delete operation). Deleting an absent manifest is not an
	// error, matching store.Backend.Delete's own idempotence.
	DeleteManifest(id string) error
	UpdateLastAccess(id string, ts int64) error
	EnumerateAll() (Cursor, error)
	ExecuteQuery(q CompositeQuery, limit int) ([]string, error)
	Search(text string, vector []float32, limit int) ([]string, error)
}
