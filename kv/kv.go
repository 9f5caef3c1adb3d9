// Package kv defines the contract the indexing core consumes from an
// underlying transactional ordered key-value store (spec §6). The store
// itself, its transactions, and binary tuple encoding are external
// collaborators — this package only states what the core needs from them,
// mirroring the way the teacher repository's ethdb.KV/ethdb.Tx/ethdb.Cursor
// interfaces separate the storage engine (LMDB/Bolt/Badger) from the code
// that drives it (ethdb/memory_database.go).
package kv

import (
	"bytes"
	"context"
)

// StreamingMode hints how eagerly a range scan should prefetch rows,
// mirroring FoundationDB's streaming modes (spec §6).
type StreamingMode int

const (
	StreamWantAll StreamingMode = iota
	StreamIterator
	StreamExact
	StreamSmall
	StreamMedium
	StreamLarge
)

// KeySelector resolves to a key relative to a reference key, matching the
// four FoundationDB selector kinds named in spec §6.
type KeySelector struct {
	Key          []byte
	OrEqual      bool
	FirstGreater bool // true: step forward from Key; false: step backward
}

func FirstGreaterOrEqual(key []byte) KeySelector { return KeySelector{Key: key, OrEqual: true, FirstGreater: true} }
func FirstGreaterThan(key []byte) KeySelector     { return KeySelector{Key: key, OrEqual: false, FirstGreater: true} }
func LastLessOrEqual(key []byte) KeySelector       { return KeySelector{Key: key, OrEqual: true, FirstGreater: false} }
func LastLessThan(key []byte) KeySelector          { return KeySelector{Key: key, OrEqual: false, FirstGreater: false} }

// AtomicOp names the atomic mutation applied by Txn.AtomicOp. The core only
// requires little-endian signed add (spec §6).
type AtomicOp int

const (
	AtomicAdd AtomicOp = iota
)

// KV is a pair read out of a range scan.
type KV struct {
	Key   []byte
	Value []byte
}

// RangeIterator streams key/value pairs in ascending key order. Next
// returns false once exhausted or on error; callers must check Err after
// the loop ends.
type RangeIterator interface {
	Next() bool
	KV() KV
	Err() error
}

// Txn is a single transaction's view of the store. Every method may
// suspend on I/O (spec §5); none may be called after the transaction's
// body function returns.
type Txn interface {
	GetValue(key []byte) ([]byte, error)
	// GetSnapshot reads from the transaction's read snapshot, ignoring any
	// writes performed earlier in the same transaction.
	GetSnapshot(key []byte) ([]byte, error)

	GetRange(begin, end KeySelector, mode StreamingMode) RangeIterator
	GetRangeSnapshot(begin, end KeySelector, mode StreamingMode) RangeIterator

	SetValue(key, value []byte)
	Clear(key []byte)
	ClearRange(begin, end []byte)

	AtomicOp(key []byte, value []byte, op AtomicOp)

	// Context returns the context the transaction was opened under, for
	// cancellation checks in long-running maintainers.
	Context() context.Context
}

// TxnConfig carries per-call overrides (read-only hint, priority, timeout).
// The zero value is the default read-write transaction.
type TxnConfig struct {
	ReadOnly bool
}

// Store is the transaction-issuing handle the core is constructed against.
type Store interface {
	// WithTransaction executes body under automatic retry on retryable
	// errors (errs.Transient) and commits on a nil return.
	WithTransaction(ctx context.Context, cfg TxnConfig, body func(Txn) error) error
}

// PrefixRange returns the [begin, end) key range covering every key with the
// given prefix, the most common range used by prefix-scanning maintainers.
func PrefixRange(prefix []byte) (begin, end []byte) {
	begin = append([]byte(nil), prefix...)
	end = append([]byte(nil), prefix...)
	end = strinc(end)
	return begin, end
}

// strinc returns the smallest byte string greater than every string with b
// as a prefix, by incrementing the last byte that is not already 0xFF and
// truncating the trailing run of 0xFF bytes. An all-0xFF input returns nil,
// which the caller (as a range end) is expected to treat as "no upper
// bound".
func strinc(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// KeyLess orders two keys the way every index subspace relies on: plain
// byte-lexicographic order, consistent with tuple encodings that preserve
// ordering per element (spec §4.1).
func KeyLess(a, b []byte) bool { return bytes.Compare(a, b) < 0 }
