package builder

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/kv"
)

// Unbuild is the symmetric counterpart to Run (SPEC_FULL.md's "Unwind path
// for online-built indexes" supplement), grounded on
// `eth/stagedsync/stage_log_index.go`'s `UnwindLogIndex`/`unwindLogIndex`
// pairing every `Spawn*` with an `Unwind*` that deletes what the forward
// pass wrote. Unlike the teacher's block-range unwind there is no partial
// undo target: an index build is all-or-nothing, so Unbuild clears the
// entire target subspace and resets the descriptor to disabled, ready for
// a future Run to rebuild it from scratch.
func Unbuild(ctx context.Context, store kv.Store, cat *catalog.Catalog, typeName, indexName string, progress *RangeSet, clearIndexRange func(txn kv.Txn)) error {
	return store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		clearIndexRange(txn)
		if progress != nil {
			progress.Clear(txn)
		}
		if err := cat.SetIndexState(txn, typeName, indexName, catalog.StateDisabled); err != nil {
			return fmt.Errorf("builder: unbuild: %w", err)
		}
		return nil
	})
}
