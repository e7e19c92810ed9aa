package memidx

import (
	"testing"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/index"
)

func manifest(id, uri string, lastAccess int64) *cmn.Manifest {
	return &cmn.Manifest{ID: id, BlobURI: uri, LastAccessedAt: lastAccess, ContentSummary: "a photo of a cat"}
}

func TestIndexAndGetManifest(t *testing.T) {
	idx := New()
	m := manifest("id1", "file://c/b", 100)
	if err := idx.IndexManifest(m); err != nil {
		t.Fatal(err)
	}
	got, ok, err := idx.GetManifest("id1")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.BlobURI != "file://c/b" {
		t.Fatalf("unexpected %+v", got)
	}
	// mutating the returned clone must not affect the index.
	got.BlobURI = "mutated"
	got2, _, _ := idx.GetManifest("id1")
	if got2.BlobURI != "file://c/b" {
		t.Fatalf("index was mutated through a returned clone")
	}
}

func TestUpdateLastAccess(t *testing.T) {
	idx := New()
	_ = idx.IndexManifest(manifest("id1", "file://c/b", 100))
	if err := idx.UpdateLastAccess("id1", 200); err != nil {
		t.Fatal(err)
	}
	got, _, _ := idx.GetManifest("id1")
	if got.LastAccessedAt != 200 {
		t.Fatalf("expected 200, got %d", got.LastAccessedAt)
	}
}

func TestUpdateLastAccessMissingIsNotFound(t *testing.T) {
	idx := New()
	err := idx.UpdateLastAccess("missing", 1)
	ke, ok := err.(*cmn.KernelError)
	if !ok || ke.Kind != cmn.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestEnumerateAllObservesEveryManifest(t *testing.T) {
	idx := New()
	_ = idx.IndexManifest(manifest("id1", "file://c/a", 0))
	_ = idx.IndexManifest(manifest("id2", "file://c/b", 0))

	cur, err := idx.EnumerateAll()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for {
		m, ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		seen[m.ID] = true
	}
	if !seen["id1"] || !seen["id2"] {
		t.Fatalf("expected both manifests observed, got %v", seen)
	}
}

func TestExecuteQueryEqualAndContains(t *testing.T) {
	idx := New()
	_ = idx.IndexManifest(&cmn.Manifest{ID: "id1", OwnerID: "alice", CurrentTier: cmn.TierHot})
	_ = idx.IndexManifest(&cmn.Manifest{ID: "id2", OwnerID: "bob", CurrentTier: cmn.TierCold})

	ids, err := idx.ExecuteQuery(index.CompositeQuery{
		Predicates: []index.Predicate{{Field: "OwnerId", Operator: index.OpEqual, Value: "alice"}},
		Logic:      index.LogicAND,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "id1" {
		t.Fatalf("got %v", ids)
	}

	ids, err = idx.ExecuteQuery(index.CompositeQuery{
		Predicates: []index.Predicate{{Field: "OwnerId", Operator: index.OpContains, Value: "LIC"}},
		Logic:      index.LogicAND,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "id1" {
		t.Fatalf("got %v", ids)
	}
}

func TestExecuteQueryUnknownFieldEvaluatesFalse(t *testing.T) {
	idx := New()
	_ = idx.IndexManifest(&cmn.Manifest{ID: "id1", OwnerID: "alice"})

	ids, err := idx.ExecuteQuery(index.CompositeQuery{
		Predicates: []index.Predicate{{Field: "NoSuchField", Operator: index.OpEqual, Value: "x"}},
		Logic:      index.LogicAND,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no matches for unknown field, got %v", ids)
	}
}

func TestSearchOrdersByScoreThenID(t *testing.T) {
	idx := New()
	_ = idx.IndexManifest(&cmn.Manifest{ID: "z", ContentSummary: "cat cat cat"})
	_ = idx.IndexManifest(&cmn.Manifest{ID: "a", ContentSummary: "cat cat cat"})
	_ = idx.IndexManifest(&cmn.Manifest{ID: "m", ContentSummary: "cat"})

	ids, err := idx.Search("cat", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "z" || ids[2] != "m" {
		t.Fatalf("expected [a z m] by (desc score, asc id), got %v", ids)
	}
}
