package indexing

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// DecodeFunc turns a primary-subspace raw value back into an Item's field
// values. Only the storage layer knows its own encoding, so Upsert/Delete
// take it as a parameter rather than assuming one — the same division
// builder.PrimarySource.DecodeFunc draws for the online-build read path.
type DecodeFunc func(raw []byte) (*Item, error)

// Upsert is the write entry point of spec §2's data-flow summary: "a write
// enters via upsert(item)... for every index, the corresponding maintainer
// reads the old item (if any), computes old and new index entries, and
// issues deletes and writes". It reads the item's previous value (if any)
// out of the primary subspace, stores the new encoded value, then fans out
// to every enabled index's maintainer in turn, all inside txn — the same
// one-mutation-fans-out-to-several-structures shape as the teacher's
// `core/state/db_state_writer.go` UpdateAccountData.
func Upsert(ctx context.Context, txn kv.Txn, cat *catalog.Catalog, reg *Registry, primary, blobs subspace.Subspace, typeName string, item *Item, raw []byte, decode DecodeFunc) error {
	entity, err := cat.Entity(typeName)
	if err != nil {
		return err
	}

	old, err := loadOld(txn, primary, item.PK, decode)
	if err != nil {
		return fmt.Errorf("indexing: upsert %s: %w", typeName, err)
	}

	if err := StoreItemValue(txn, primary, blobs, item.PK, raw); err != nil {
		return fmt.Errorf("indexing: upsert %s: %w", typeName, err)
	}

	for _, m := range reg.ForEntity(typeName, enabledIndexNames(entity)) {
		if err := m.UpdateIndex(ctx, txn, old, item); err != nil {
			return fmt.Errorf("indexing: upsert %s: %w", typeName, err)
		}
	}
	return nil
}

// Delete is upsert's symmetric teardown: every enabled index's maintainer
// sees (old=item, new=nil), and the primary value — plus any externalized
// blob — is cleared last, once every index has recorded the removal. A
// missing pk is a no-op, not an error.
func Delete(ctx context.Context, txn kv.Txn, cat *catalog.Catalog, reg *Registry, primary, blobs subspace.Subspace, typeName string, pk tuple.Tuple, decode DecodeFunc) error {
	entity, err := cat.Entity(typeName)
	if err != nil {
		return err
	}

	old, err := loadOld(txn, primary, pk, decode)
	if err != nil {
		return fmt.Errorf("indexing: delete %s: %w", typeName, err)
	}
	if old == nil {
		return nil
	}

	for _, m := range reg.ForEntity(typeName, enabledIndexNames(entity)) {
		if err := m.UpdateIndex(ctx, txn, old, nil); err != nil {
			return fmt.Errorf("indexing: delete %s: %w", typeName, err)
		}
	}
	return DeleteItemValue(txn, primary, blobs, pk)
}

func loadOld(txn kv.Txn, primary subspace.Subspace, pk tuple.Tuple, decode DecodeFunc) (*Item, error) {
	raw, found, err := LoadItemValue(txn, primary, pk)
	if err != nil || !found {
		return nil, err
	}
	return decode(raw)
}

// enabledIndexNames excludes disabled indexes from the write fan-out —
// an index mid-drop (or never enabled) should not accumulate entries it
// will just be torn down.
func enabledIndexNames(e *catalog.Entity) []string {
	names := make([]string, 0, len(e.Indexes))
	for _, idx := range e.Indexes {
		if idx.State == catalog.StateDisabled {
			continue
		}
		names = append(names, idx.Name)
	}
	return names
}
