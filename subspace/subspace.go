// Package subspace implements the ordered-byte prefix algebra and the
// directory resolver of spec §4.1. It generalizes the teacher's flat,
// statically-named bucket namespace (common/dbutils/bucket.go's
// `Buckets`/`BucketsConfigs` list) into a dynamically nested one: every
// entity's root subspace is allocated at runtime from its directory
// components plus a partition binding, instead of being a compile-time
// string constant.
package subspace

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/tuple"
)

// Subspace is an immutable ordered-byte prefix. Every key inside a subspace
// sorts consistently with its logical field order because the packed tuple
// elements preserve per-type ordering (spec §4.1).
type Subspace struct {
	prefix []byte
}

func FromPrefix(prefix []byte) Subspace {
	return Subspace{prefix: append([]byte(nil), prefix...)}
}

// Sub returns a child subspace for a single path component, tuple-packed so
// components of different types never collide.
func (s Subspace) Sub(component tuple.Element) Subspace {
	packed := tuple.From(component).Pack()
	child := make([]byte, 0, len(s.prefix)+len(packed))
	child = append(child, s.prefix...)
	child = append(child, packed...)
	return Subspace{prefix: child}
}

// Pack appends a tuple-encoded key under this subspace.
func (s Subspace) Pack(t tuple.Tuple) []byte {
	packed := t.Pack()
	key := make([]byte, 0, len(s.prefix)+len(packed))
	key = append(key, s.prefix...)
	key = append(key, packed...)
	return key
}

// Unpack strips this subspace's prefix and decodes the remainder as a
// tuple. It errors if key does not belong to the subspace.
func (s Subspace) Unpack(key []byte) (tuple.Tuple, error) {
	if !bytes.HasPrefix(key, s.prefix) {
		return nil, fmt.Errorf("subspace: key does not belong to this subspace")
	}
	return tuple.Unpack(key[len(s.prefix):])
}

// Contains reports whether key falls under this subspace's prefix.
func (s Subspace) Contains(key []byte) bool { return bytes.HasPrefix(key, s.prefix) }

// Range returns the [begin, end) byte range covering every key in this
// subspace.
func (s Subspace) Range() (begin, end []byte) { return kv.PrefixRange(s.prefix) }

func (s Subspace) Bytes() []byte { return append([]byte(nil), s.prefix...) }

// DirectoryComponent is one segment of an entity's path to its root
// subspace (spec §4.1).
type DirectoryComponent struct {
	Static     string // non-empty for a static segment
	FieldName  string // non-empty for a dynamic segment bound at runtime
}

func Static(name string) DirectoryComponent         { return DirectoryComponent{Static: name} }
func Dynamic(fieldName string) DirectoryComponent    { return DirectoryComponent{FieldName: fieldName} }
func (c DirectoryComponent) IsDynamic() bool         { return c.FieldName != "" }

// PartitionBinding maps a dynamic component's field name to its runtime
// value for one resolution.
type PartitionBinding map[string]tuple.Element

// DirectoryPath is the path to one entity's root subspace: a sequence of
// components plus the bindings supplying every dynamic one.
type DirectoryPath struct {
	Components []DirectoryComponent
	Bindings   PartitionBinding
}

// FromItem constructs a DirectoryPath by reading every dynamic field's
// runtime value out of a resolved item's field values.
func FromItem(components []DirectoryComponent, fieldValues map[string]tuple.Element) DirectoryPath {
	bindings := make(PartitionBinding, len(components))
	for _, c := range components {
		if c.IsDynamic() {
			if v, ok := fieldValues[c.FieldName]; ok {
				bindings[c.FieldName] = v
			}
		}
	}
	return DirectoryPath{Components: components, Bindings: bindings}
}

// FromPartition constructs a DirectoryPath from an explicit partition
// binding, as used by the query builder's `.partition(keyPath, equals:)`.
func FromPartition(components []DirectoryComponent, binding PartitionBinding) DirectoryPath {
	return DirectoryPath{Components: components, Bindings: binding}
}

// Validate returns the field names of dynamic components that have no
// binding; an empty list means validation passed. Allocator.Resolve turns a
// non-empty list into an error that unwraps to errs.MissingDirectoryFields.
func (p DirectoryPath) Validate() []string {
	var missing []string
	for _, c := range p.Components {
		if c.IsDynamic() {
			if _, ok := p.Bindings[c.FieldName]; !ok {
				missing = append(missing, c.FieldName)
			}
		}
	}
	return missing
}

// Resolve deterministically produces the ordered path segments. It is
// error-free once Validate has returned no missing fields.
func (p DirectoryPath) Resolve() []tuple.Element {
	segs := make([]tuple.Element, 0, len(p.Components))
	for _, c := range p.Components {
		if c.IsDynamic() {
			segs = append(segs, p.Bindings[c.FieldName])
		} else {
			segs = append(segs, tuple.String(c.Static))
		}
	}
	return segs
}

// cacheKey identifies one resolved directory by its static shape plus the
// packed bytes of its dynamic bindings, so distinct partitions of the same
// entity get distinct cache entries.
func (p DirectoryPath) cacheKey(typeName string) string {
	segs := p.Resolve()
	t := make(tuple.Tuple, 0, len(segs)+1)
	t = append(t, tuple.String(typeName))
	t = append(t, segs...)
	return string(t.Pack())
}

// Allocator hands out a short, stable byte prefix for a directory path,
// analogous to FoundationDB's directory layer. It is backed by a root
// subspace under which allocator bookkeeping keys live.
type Allocator struct {
	root Subspace

	mu    sync.Mutex
	cache map[string]Subspace
}

func NewAllocator(root Subspace) *Allocator {
	return &Allocator{root: root, cache: make(map[string]Subspace)}
}

// allocNodeKey is the metadata key the allocator uses to persist the mapping
// from a resolved directory path to its allocated short prefix.
const allocNodeKey = "alloc-node"
const allocCounterKey = "alloc-counter"

// Resolve returns the subspace for a (typeName, path) pair, consulting the
// resolver's cache first and otherwise allocating (and persisting) a new
// short prefix under the supplied transaction, matching spec §4.1's
// "resolver consults a cache ... populated on first resolution under a
// transaction provided by the caller."
func (a *Allocator) Resolve(ctx context.Context, txn kv.Txn, typeName string, path DirectoryPath) (Subspace, error) {
	if missing := path.Validate(); len(missing) > 0 {
		return Subspace{}, &missingFieldsErr{fields: missing}
	}
	key := path.cacheKey(typeName)

	a.mu.Lock()
	if s, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return s, nil
	}
	a.mu.Unlock()

	nodeKey := a.root.Sub(tuple.String(allocNodeKey)).Pack(tuple.From(tuple.String(key)))
	existing, err := txn.GetValue(nodeKey)
	if err != nil {
		return Subspace{}, err
	}
	var prefix []byte
	if existing != nil {
		prefix = existing
	} else {
		prefix, err = a.allocatePrefix(txn)
		if err != nil {
			return Subspace{}, err
		}
		txn.SetValue(nodeKey, prefix)
	}

	s := FromPrefix(prefix)
	a.mu.Lock()
	a.cache[key] = s
	a.mu.Unlock()
	return s, nil
}

func (a *Allocator) allocatePrefix(txn kv.Txn) ([]byte, error) {
	counterKey := a.root.Sub(tuple.String(allocCounterKey)).Bytes()
	txn.AtomicOp(counterKey, leEncode(1), kv.AtomicAdd)
	raw, err := txn.GetValue(counterKey)
	if err != nil {
		return nil, err
	}
	n := leDecode(raw)
	return a.root.Sub(tuple.String("dir")).Pack(tuple.From(tuple.Int(n))), nil
}

func leEncode(v int64) []byte {
	b := make([]byte, 8)
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * uint(i)))
	}
	return b
}

func leDecode(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var u uint64
	for i := 0; i < len(b) && i < 8; i++ {
		u |= uint64(b[i]) << (8 * uint(i))
	}
	return int64(u)
}

type missingFieldsErr struct{ fields []string }

func (e *missingFieldsErr) Error() string { return fmt.Sprintf("missing directory fields: %v", e.fields) }
func (e *missingFieldsErr) MissingFields() []string { return e.fields }
func (e *missingFieldsErr) Unwrap() error           { return errs.MissingDirectoryFields }
