package preload

import (
	"github.com/VictoriaMetrics/fastcache"
)

// FastPreload is an alternate backing store for bulk preload warming, used
// when the item count is large enough that Cache[T]'s per-entry bookkeeping
// (access counts, intrusive list nodes) is unwanted overhead and only a
// flat, size-bounded byte cache is needed — the same role
// core/state/db_state_writer.go's *fastcache.Cache account/storage/code
// fields play for the teacher: a fixed-capacity, unmanaged bulk cache in
// front of storage, not a policy-rich one.
type FastPreload struct {
	backing   *fastcache.Cache
	marshal   func(item interface{}) ([]byte, error)
	unmarshal func(raw []byte) (interface{}, error)
}

// NewFastPreload allocates a cache bounded to maxBytes, following
// fastcache's own sizing convention (its internal bucket count is derived
// from maxBytes, not an entry count).
func NewFastPreload(maxBytes int, marshal func(item interface{}) ([]byte, error), unmarshal func(raw []byte) (interface{}, error)) *FastPreload {
	return &FastPreload{backing: fastcache.New(maxBytes), marshal: marshal, unmarshal: unmarshal}
}

func (f *FastPreload) Put(key []byte, item interface{}) error {
	raw, err := f.marshal(item)
	if err != nil {
		return err
	}
	f.backing.Set(key, raw)
	return nil
}

func (f *FastPreload) Get(key []byte) (interface{}, bool, error) {
	raw := f.backing.Get(nil, key)
	if raw == nil {
		return nil, false, nil
	}
	item, err := f.unmarshal(raw)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func (f *FastPreload) Has(key []byte) bool { return f.backing.Has(key) }

// Preload bulk-warms the cache from a caller-supplied key/item set, the bulk
// path spec §4.10's `preload(items)` operation names, sized for the case
// where items is large enough that per-entry bookkeeping is unwanted.
func (f *FastPreload) Preload(items map[string]interface{}) error {
	for k, v := range items {
		if err := f.Put([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (f *FastPreload) Reset() { f.backing.Reset() }

// Statistics reports fastcache's own running counters, not Cache[T]'s Stats
// shape, since fastcache tracks its own entry/byte/hit/miss accounting
// internally.
func (f *FastPreload) Statistics() fastcache.Stats {
	var s fastcache.Stats
	f.backing.UpdateStats(&s)
	return s
}
