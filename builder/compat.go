package builder

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// Compatibility is the result of analyzing whether a target index can be
// built by scanning a source index instead of primary data (spec §4.8).
type Compatibility struct {
	Compatible        bool
	RequiresDataFetch bool
	Incompatible      string // set when !Compatible, the reason
}

// AnalyzeCompatibility decides whether source can feed target's build.
// source is usable when target's required fields are an ordered prefix of
// source's key fields (the packed key then already carries every
// value target needs, with no structure to re-derive); it is usable with a
// data fetch when source at least yields the primary key (every index key
// does, by construction — see indexing.PrimaryKeyFromIndexKey) but not all
// of target's required field values. Indexes over different entities are
// never compatible.
func AnalyzeCompatibility(targetEntity, sourceEntity string, target, source catalog.IndexDescriptor) Compatibility {
	if targetEntity != sourceEntity {
		return Compatibility{Incompatible: fmt.Sprintf("source index %q is over entity %q, target %q is over %q", source.Name, sourceEntity, target.Name, targetEntity)}
	}
	if source.State != catalog.StateReadable {
		return Compatibility{Incompatible: fmt.Sprintf("source index %q is not readable (state=%s)", source.Name, source.State)}
	}
	if fieldsArePrefix(target.Fields, source.Fields) {
		return Compatibility{Compatible: true}
	}
	return Compatibility{Compatible: true, RequiresDataFetch: true}
}

// fieldsArePrefix reports whether want is an ordered prefix of have.
func fieldsArePrefix(want, have []string) bool {
	if len(want) > len(have) {
		return false
	}
	for i, f := range want {
		if have[i] != f {
			return false
		}
	}
	return true
}

// Fetcher resolves an item's full field values from its primary key, used
// by IndexSource when compatibility analysis requires a data fetch.
type Fetcher interface {
	FetchItem(ctx context.Context, txn kv.Txn, pk tuple.Tuple) (*indexing.Item, error)
}

// IndexSource scans a readable source index's subspace instead of primary
// data (spec §4.8). When the analysis says RequiresDataFetch, Decode
// extracts only the primary key from each source entry and calls Fetch to
// recover the rest; otherwise it decodes field values directly out of the
// source key in the order of Source.Fields.
type IndexSource struct {
	Entity   *catalog.Entity
	SourceSub subspace.Subspace
	Source   catalog.IndexDescriptor
	Compat   Compatibility
	Fetch    Fetcher // required when Compat.RequiresDataFetch
}

func (s *IndexSource) Range() (begin, end []byte) { return s.SourceSub.Range() }

func (s *IndexSource) Decode(ctx context.Context, txn kv.Txn, row kv.KV) (*indexing.Item, bool, error) {
	pk, err := indexing.PrimaryKeyFromIndexKey(s.Entity, row.Key, s.SourceSub)
	if err != nil {
		return nil, false, fmt.Errorf("builder: index-from-index decode: %w", err)
	}
	if s.Compat.RequiresDataFetch {
		item, err := s.Fetch.FetchItem(ctx, txn, pk)
		if err != nil {
			return nil, false, err
		}
		return item, item != nil, nil
	}
	t, err := s.SourceSub.Unpack(row.Key)
	if err != nil {
		return nil, false, fmt.Errorf("builder: index-from-index decode: %w", err)
	}
	arity := s.Entity.PrimaryKeyArity()
	fieldCount := len(t) - arity
	if fieldCount < 0 || fieldCount < len(s.Source.Fields) {
		return nil, false, fmt.Errorf("builder: source key has fewer components than declared fields")
	}
	values := make(map[string]tuple.Element, len(s.Source.Fields))
	for i, name := range s.Source.Fields {
		values[name] = t[i]
	}
	return &indexing.Item{PK: pk, Values: values}, true, nil
}
