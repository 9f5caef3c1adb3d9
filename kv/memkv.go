package kv

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by tests and by the teacher's own
// NewMemDatabase()-style construction (ethdb/memory_database.go): a single
// backend swapped in behind the same Store contract as a real engine, with
// no persistence and no MVCC: a global mutex guards only the snapshot copy
// and the commit, and conflicting transactions are not detected. It gives
// every transaction a snapshot of the whole keyspace at Begin time and
// applies writes atomically at commit, which is sufficient to exercise the
// core's transaction discipline (spec §5) even though it does not provide
// true multi-writer concurrency.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) WithTransaction(ctx context.Context, _ TxnConfig, body func(Txn) error) error {
	m.mu.Lock()
	snapshot := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		snapshot[k] = v
	}
	m.mu.Unlock()

	txn := &memTxn{ctx: ctx, base: snapshot, writes: map[string][]byte{}, clears: map[string]bool{}}
	if err := body(txn); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range txn.clears {
		delete(m.data, k)
	}
	for _, r := range txn.clearRanges {
		for k := range m.data {
			if k >= r.begin && (r.end == "" || k < r.end) {
				delete(m.data, k)
			}
		}
	}
	for k, v := range txn.writes {
		m.data[k] = v
	}
	return nil
}

type clearRange struct{ begin, end string }

type memTxn struct {
	ctx         context.Context
	base        map[string][]byte
	writes      map[string][]byte
	clears      map[string]bool
	clearRanges []clearRange
}

func (t *memTxn) Context() context.Context { return t.ctx }

func (t *memTxn) view(key []byte) ([]byte, bool) {
	k := string(key)
	if t.clears[k] {
		return nil, false
	}
	if v, ok := t.writes[k]; ok {
		return v, true
	}
	for _, r := range t.clearRanges {
		if k >= r.begin && (r.end == "" || k < r.end) {
			return nil, false
		}
	}
	v, ok := t.base[k]
	return v, ok
}

func (t *memTxn) GetValue(key []byte) ([]byte, error) {
	v, ok := t.view(key)
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (t *memTxn) GetSnapshot(key []byte) ([]byte, error) {
	v, ok := t.base[string(key)]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (t *memTxn) SetValue(key, value []byte) {
	k := string(key)
	delete(t.clears, k)
	cp := append([]byte(nil), value...)
	t.writes[k] = cp
}

func (t *memTxn) Clear(key []byte) {
	k := string(key)
	delete(t.writes, k)
	t.clears[k] = true
}

func (t *memTxn) ClearRange(begin, end []byte) {
	t.clearRanges = append(t.clearRanges, clearRange{begin: string(begin), end: string(end)})
	for k := range t.writes {
		if k >= string(begin) && (len(end) == 0 || k < string(end)) {
			delete(t.writes, k)
		}
	}
}

func (t *memTxn) AtomicOp(key []byte, value []byte, op AtomicOp) {
	if op != AtomicAdd {
		panic("memkv: unsupported atomic op")
	}
	delta := decodeLEInt64(value)
	cur, _ := t.view(key)
	curVal := decodeLEInt64(cur)
	t.SetValue(key, encodeLEInt64(curVal+delta))
}

func encodeLEInt64(v int64) []byte {
	b := make([]byte, 8)
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * uint(i)))
	}
	return b
}

func decodeLEInt64(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var u uint64
	for i := 0; i < len(b) && i < 8; i++ {
		u |= uint64(b[i]) << (8 * uint(i))
	}
	return int64(u)
}

func (t *memTxn) allKeys() []string {
	set := map[string]struct{}{}
	for k := range t.base {
		set[k] = struct{}{}
	}
	for k := range t.writes {
		set[k] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		if _, ok := t.view([]byte(k)); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (t *memTxn) GetRange(begin, end KeySelector, mode StreamingMode) RangeIterator {
	return t.rangeOver(begin, end)
}

func (t *memTxn) GetRangeSnapshot(begin, end KeySelector, mode StreamingMode) RangeIterator {
	return t.rangeOver(begin, end)
}

func (t *memTxn) rangeOver(begin, end KeySelector) RangeIterator {
	keys := t.allKeys()
	lo := resolveSelector(keys, begin, true)
	hi := resolveSelector(keys, end, false)
	if lo < 0 {
		lo = 0
	}
	if hi > len(keys) {
		hi = len(keys)
	}
	if hi < lo {
		hi = lo
	}
	slice := keys[lo:hi]
	return &memIter{txn: t, keys: slice, pos: -1}
}

// resolveSelector converts a KeySelector into an index into the sorted
// keys slice. forBegin controls rounding when the selector key is absent.
func resolveSelector(keys []string, sel KeySelector, forBegin bool) int {
	k := string(sel.Key)
	i := sort.SearchStrings(keys, k)
	exact := i < len(keys) && keys[i] == k

	if sel.FirstGreater {
		if exact && sel.OrEqual {
			return i
		}
		if exact {
			return i + 1
		}
		return i // sort.SearchStrings already gives first index > k
	}
	// last-less(-or-equal)
	if exact && sel.OrEqual {
		return i + 1
	}
	return i
}

type memIter struct {
	txn  *memTxn
	keys []string
	pos  int
}

func (it *memIter) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIter) KV() KV {
	k := it.keys[it.pos]
	v, _ := it.txn.view([]byte(k))
	return KV{Key: []byte(k), Value: v}
}

func (it *memIter) Err() error { return nil }
