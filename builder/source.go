package builder

import (
	"context"

	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
)

// Source streams the raw rows a build scans, decoding each into an Item the
// target maintainer can write. PrimarySource (§4.4, scanning primary data)
// and IndexSource (§4.8, scanning a compatible source index) both implement
// it, so Run drives either pipeline identically.
type Source interface {
	// Range returns the [begin, end) key bounds of the full subspace this
	// source scans — the RangeSet's initial single range.
	Range() (begin, end []byte)

	// Decode turns one raw row into an Item usable by the target
	// maintainer's ScanItem, or (nil, false) if the row should be skipped
	// (e.g. a tombstone or an incompatible legacy record).
	Decode(ctx context.Context, txn kv.Txn, row kv.KV) (*indexing.Item, bool, error)
}

// PrimarySource scans an entity's primary-data subspace directly — the
// §4.4 path. Decode is supplied by the caller because only the storage
// layer knows how to turn a primary-data value back into field values; this
// package only drives the scan.
type PrimarySource struct {
	Sub        subspace.Subspace
	DecodeFunc func(ctx context.Context, txn kv.Txn, row kv.KV) (*indexing.Item, bool, error)
}

func (s *PrimarySource) Range() (begin, end []byte) { return s.Sub.Range() }

func (s *PrimarySource) Decode(ctx context.Context, txn kv.Txn, row kv.KV) (*indexing.Item, bool, error) {
	return s.DecodeFunc(ctx, txn, row)
}
