package modules

import (
	"context"

	"github.com/seiflotfy/cuckoofilter"

	"github.com/kilnstore/kiln/cmn/cos"
	"github.com/kilnstore/kiln/index"
	"github.com/kilnstore/kiln/sentinel"
)

// DedupModule keeps an approximate membership sketch of every checksum
// it has seen (a cuckoo filter, the teacher's own
// github.com/seiflotfy/cuckoofilter dependency, repurposed here from EC
// slice dedup to governance) so a likely duplicate can be flagged
// without an index round-trip on every write; the filter only narrows
// candidates, EvaluateQuery against MetadataIndex confirms with an exact
// checksum match (spec §4.8).
type DedupModule struct {
	idx    index.MetadataIndex
	filter *cuckoo.Filter
}

func NewDedupModule(idx index.MetadataIndex) *DedupModule {
	return &DedupModule{idx: idx, filter: cuckoo.NewFilter(1 << 20)}
}

func (m *DedupModule) Name() string { return "dedup-advisor" }

func (m *DedupModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnWrite || sctx.DataStream == nil {
		return sentinel.Judgment{}, nil
	}
	sum, err := cos.SHA256Hex(sctx.DataStream)
	if err != nil {
		return sentinel.Judgment{}, err
	}

	seen := m.filter.Lookup([]byte(sum))
	m.filter.InsertUnique([]byte(sum))
	if !seen {
		return sentinel.Judgment{}, nil
	}

	ids, err := m.idx.ExecuteQuery(index.CompositeQuery{
		Predicates: []index.Predicate{{Field: "Checksum", Operator: index.OpEqual, Value: sum}},
	}, 1)
	if err != nil || len(ids) == 0 {
		return sentinel.Judgment{}, err // cuckoo false positive, or the match has since been deleted
	}

	return sentinel.Judgment{
		InterventionRequired: true,
		AddTags:              map[string]string{"Governance:DuplicateOf": ids[0]},
	}, nil
}
