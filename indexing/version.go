package indexing

import (
	"context"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// VersionMaintainer implements the "version" index kind (spec §4.3):
// append-only history `[subspace/history][pk][commit-version] = snapshot`.
// It is grounded on the teacher's accounts/storage history buckets
// (`core/state/history.go`'s `FindByHistory`, seeking a chunk key keyed by
// (account-key, timestamp)) generalized from a hardcoded account/storage
// pair to any entity's primary key plus an opaque snapshot payload.
type VersionMaintainer struct {
	Name string
	Sub  subspace.Subspace
	// CommitVersion supplies the monotonically increasing version stamp
	// for the current write — the caller's transaction sequence number or
	// wall-clock tick, matching the teacher's block-number-keyed history.
	CommitVersion func(ctx context.Context) int64
}

var _ Maintainer = (*VersionMaintainer)(nil)

func (m *VersionMaintainer) entryKey(pk tuple.Tuple, version int64) []byte {
	elems := make(tuple.Tuple, 0, len(pk)+1)
	elems = append(elems, pk...)
	elems = append(elems, tuple.Int(version))
	return m.Sub.Pack(elems)
}

// ComputeIndexKeys is not meaningful for an append-only history maintainer
// in the same sense as the other kinds (there is no single "current" key
// set to diff), so it returns nil: a history key depends on the commit
// version it was written at, and this maintainer reports no key to probe.
func (m *VersionMaintainer) ComputeIndexKeys(item *Item) [][]byte {
	return nil
}

// ScanItem appends one history entry for item's current snapshot, used
// during online build (spec §4.4) to seed history from the current state
// in one pass (the payload is item's snapshotField value, as in
// UpdateIndex).
func (m *VersionMaintainer) ScanItem(ctx context.Context, txn kv.Txn, item *Item) error {
	payload, _ := item.FieldValue(snapshotField)
	raw, _ := payload.AsBytes()
	return m.Append(ctx, txn, item.PK, raw)
}

// Append writes one history entry for pk at CommitVersion, with an
// opaque, already-encoded snapshot (or delta) payload — the maintainer
// itself is agnostic to whether callers store full snapshots or deltas
// (spec §4.3 "snapshot-or-delta").
func (m *VersionMaintainer) Append(ctx context.Context, txn kv.Txn, pk tuple.Tuple, payload []byte) error {
	version := m.CommitVersion(ctx)
	txn.SetValue(m.entryKey(pk, version), payload)
	return nil
}

// UpdateIndex appends new's snapshot as the next history entry; a delete
// (new == nil) appends a tombstone (empty payload) so diff/versions can
// still observe that the record ceased to exist at that version. The
// snapshot payload itself is supplied by the caller through Values under
// a conventional "__snapshot" field, since Item's own Values map is the
// only per-write channel this interface method has access to.
func (m *VersionMaintainer) UpdateIndex(ctx context.Context, txn kv.Txn, old, new *Item) error {
	if new == nil {
		if old == nil {
			return nil
		}
		return m.Append(ctx, txn, old.PK, nil)
	}
	payload, _ := new.FieldValue(snapshotField)
	raw, _ := payload.AsBytes()
	return m.Append(ctx, txn, new.PK, raw)
}

// snapshotField is the conventional Values key a caller populates with the
// already-encoded snapshot/delta payload before calling UpdateIndex.
const snapshotField = "__snapshot"

// HistoryEntry is one version-maintainer record as returned by Versions.
type HistoryEntry struct {
	Version int64
	Payload []byte
}

// Versions returns up to limit history entries for pk, most recent first
// (spec §4.3 `versions(pk, limit)`).
func (m *VersionMaintainer) Versions(ctx context.Context, txn kv.Txn, pk tuple.Tuple, limit int) ([]HistoryEntry, error) {
	begin, end := kv.PrefixRange(m.Sub.Pack(pk))
	it := txn.GetRange(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	var all []HistoryEntry
	for it.Next() {
		kvPair := it.KV()
		t, err := m.Sub.Unpack(kvPair.Key)
		if err != nil {
			continue
		}
		if len(t) == 0 {
			continue
		}
		version, ok := t[len(t)-1].AsInt()
		if !ok {
			continue
		}
		all = append(all, HistoryEntry{Version: version, Payload: kvPair.Value})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	// Reverse to most-recent-first and cap at limit; the store's native key
	// order is ascending by version, so a descending top-N is a linear
	// reverse-and-slice here rather than a reverse range scan (kept simple
	// since history depth per key is expected to be bounded in practice).
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Diff returns the full version history for pk as an ordered changelog —
// spec §4.3's `diff(pk)`, here surfaced as every recorded entry in
// ascending version order (the caller interprets consecutive payloads as
// the diff depending on whether this maintainer stores snapshots or
// deltas).
func (m *VersionMaintainer) Diff(ctx context.Context, txn kv.Txn, pk tuple.Tuple) ([]HistoryEntry, error) {
	entries, err := m.Versions(ctx, txn, pk, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
