// Package catalog persists the schema metadata every other component reads
// at runtime: entities, their fields, directory components, and index
// descriptors (spec §4.2). It generalizes the teacher's compile-time
// `common/dbutils/bucket.go` bucket list (a flat `[]string` plus a
// `BucketsCfg` map of per-bucket flags, reinitialized in `init()`/`reinit()`)
// into a runtime-persisted, monotonically-evolving registry, and borrows
// `migrations/migrations.go`'s "idempotent apply, skip what's already
// recorded" discipline for schema evolution (SPEC_FULL.md Supplemented
// Features).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

type PrimitiveType string

const (
	TString PrimitiveType = "string"
	TInt64  PrimitiveType = "int64"
	TDouble PrimitiveType = "double"
	TBool   PrimitiveType = "bool"
	TData   PrimitiveType = "data"
	TDate   PrimitiveType = "date"
	TUUID   PrimitiveType = "uuid"
)

// FieldSchema describes one field of an entity (spec §3).
type FieldSchema struct {
	Name        string        `json:"name"`
	FieldNumber int           `json:"fieldNumber"`
	Type        PrimitiveType `json:"type"`
	IsOptional  bool          `json:"isOptional"`
	IsArray     bool          `json:"isArray"`
}

// IndexKind identifies the maintainer implementation an index descriptor
// is bound to (spec §3, §9 "model each maintainer as a concrete type behind
// a common trait/interface keyed by an IndexKindId").
type IndexKind string

const (
	KindScalar       IndexKind = "scalar"
	KindComposite    IndexKind = "composite"
	KindVector       IndexKind = "vector"
	KindFullText     IndexKind = "fulltext"
	KindSpatial      IndexKind = "spatial"
	KindRank         IndexKind = "rank"
	KindPermuted     IndexKind = "permuted"
	KindGraph        IndexKind = "graph"
	KindAggregation  IndexKind = "aggregation"
	KindVersion      IndexKind = "version"
	KindBitmap       IndexKind = "bitmap"
	KindLeaderboard  IndexKind = "leaderboard"
	KindRelationship IndexKind = "relationship"
)

// IndexState is the online-build lifecycle state of an index (spec I6).
type IndexState string

const (
	StateDisabled  IndexState = "disabled"
	StateWriteOnly IndexState = "writeOnly"
	StateReadable  IndexState = "readable"
)

// IndexDescriptor is the persisted shape of one index (spec §3).
type IndexDescriptor struct {
	Name     string            `json:"name"`
	Kind     IndexKind         `json:"kind"`
	Fields   []string          `json:"fields"`
	Unique   bool              `json:"unique"`
	Sparse   bool              `json:"sparse"`
	Metadata map[string]string `json:"metadata"`
	State    IndexState        `json:"state"`
}

// DirectoryComponentRecord is the persisted shape of one directory
// component (static segment or dynamic field reference).
type DirectoryComponentRecord struct {
	Static    string `json:"static,omitempty"`
	FieldName string `json:"field,omitempty"`
}

func (d DirectoryComponentRecord) toSubspace() subspace.DirectoryComponent {
	if d.FieldName != "" {
		return subspace.Dynamic(d.FieldName)
	}
	return subspace.Static(d.Static)
}

func fromSubspaceComponent(c subspace.DirectoryComponent) DirectoryComponentRecord {
	if c.IsDynamic() {
		return DirectoryComponentRecord{FieldName: c.FieldName}
	}
	return DirectoryComponentRecord{Static: c.Static}
}

// Entity is a registered persistable type (spec §3).
type Entity struct {
	TypeName  string                     `json:"typeName"`
	Fields    []FieldSchema              `json:"fields"`
	Directory []DirectoryComponentRecord `json:"directory"`
	Indexes   []IndexDescriptor          `json:"indexes"`

	primaryKeyArity int
}

// DirectoryComponents converts the persisted directory record into the
// subspace package's runtime shape.
func (e *Entity) DirectoryComponents() []subspace.DirectoryComponent {
	out := make([]subspace.DirectoryComponent, len(e.Directory))
	for i, d := range e.Directory {
		out[i] = d.toSubspace()
	}
	return out
}

// PrimaryKeyArity is the number of trailing tuple elements that make up an
// item's primary key once indexed-field values precede it in a composite
// index key. It is 1 unless SetPrimaryKeyArity has set a larger value for
// an entity with a compound primary key; index-from-index extraction
// consults it rather than assuming "last element" (SPEC_FULL.md open
// question 3).
func (e *Entity) PrimaryKeyArity() int {
	if e.primaryKeyArity > 0 {
		return e.primaryKeyArity
	}
	return 1
}

// primaryKeyArity is set via SetPrimaryKeyArity for entities with compound
// primary keys (e.g. a composite of tenant+localID). Not persisted as a
// separate JSON field to keep the common single-key case silent in the
// on-disk form; it is recomputed by the caller that registers the entity.
func (e *Entity) SetPrimaryKeyArity(n int) { e.primaryKeyArity = n }

// Catalog persists and caches entity metadata (spec §4.2).
type Catalog struct {
	meta subspace.Subspace

	mu       sync.RWMutex
	entities map[string]*Entity
	applied  map[string]bool // migration names already applied, §4.2/Supplemented Features
}

const (
	entitiesKey   = "entity"
	migrationsKey = "migration"
)

func New(meta subspace.Subspace) *Catalog {
	return &Catalog{
		meta:     meta,
		entities: make(map[string]*Entity),
		applied:  make(map[string]bool),
	}
}

// Load populates the in-memory catalog from the persisted metadata
// subspace. Decoders accept legacy records missing `metadata` (default to
// an empty map), per spec §4.2.
func (c *Catalog) Load(ctx context.Context, txn kv.Txn) error {
	entitySub := c.meta.Sub(tuple.String(entitiesKey))
	begin, end := entitySub.Range()
	it := txn.GetRange(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	c.mu.Lock()
	defer c.mu.Unlock()
	for it.Next() {
		kvPair := it.KV()
		var e Entity
		if err := json.Unmarshal(kvPair.Value, &e); err != nil {
			return fmt.Errorf("catalog: decode entity record: %w", err)
		}
		for i := range e.Indexes {
			if e.Indexes[i].Metadata == nil {
				e.Indexes[i].Metadata = map[string]string{}
			}
			if e.Indexes[i].State == "" {
				e.Indexes[i].State = StateReadable
			}
		}
		c.entities[e.TypeName] = &e
	}
	if err := it.Err(); err != nil {
		return err
	}

	migSub := c.meta.Sub(tuple.String(migrationsKey))
	mbegin, mend := migSub.Range()
	mit := txn.GetRange(kv.FirstGreaterOrEqual(mbegin), kv.FirstGreaterOrEqual(mend), kv.StreamWantAll)
	for mit.Next() {
		t, err := migSub.Unpack(mit.KV().Key)
		if err != nil {
			return err
		}
		if name, ok := t[0].AsString(); ok {
			c.applied[name] = true
		}
	}
	return mit.Err()
}

// Register persists a new entity, or — if already registered — applies any
// monotonic field/index additions (fields and indexes may only be added,
// never silently removed; see spec §3 Lifecycle). Each addition is recorded
// as an applied migration keyed by "<typeName>.field.<name>" or
// "<typeName>.index.<name>" so
// re-registration with the same shape is a no-op, mirroring
// migrations.Migrator.Apply's idempotent-by-name behavior.
func (c *Catalog) Register(ctx context.Context, txn kv.Txn, e Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entities[e.TypeName]
	if !ok {
		for i := range e.Indexes {
			if e.Indexes[i].Metadata == nil {
				e.Indexes[i].Metadata = map[string]string{}
			}
			if e.Indexes[i].State == "" {
				e.Indexes[i].State = StateReadable
			}
		}
		cp := e
		c.entities[e.TypeName] = &cp
		if err := c.persist(txn, &cp); err != nil {
			return err
		}
		log.Info("catalog: registered entity", "type", e.TypeName, "fields", len(e.Fields), "indexes", len(e.Indexes))
		return nil
	}

	changed := false
	for _, f := range e.Fields {
		migName := existing.TypeName + ".field." + f.Name
		if c.applied[migName] {
			continue
		}
		if !hasField(existing.Fields, f.Name) {
			existing.Fields = append(existing.Fields, f)
			changed = true
		}
		c.markApplied(txn, migName)
	}
	for _, idx := range e.Indexes {
		migName := existing.TypeName + ".index." + idx.Name
		if c.applied[migName] {
			continue
		}
		if !hasIndex(existing.Indexes, idx.Name) {
			if idx.Metadata == nil {
				idx.Metadata = map[string]string{}
			}
			if idx.State == "" {
				idx.State = StateDisabled
			}
			existing.Indexes = append(existing.Indexes, idx)
			changed = true
		}
		c.markApplied(txn, migName)
	}
	if changed {
		return c.persist(txn, existing)
	}
	return nil
}

func hasField(fs []FieldSchema, name string) bool {
	for _, f := range fs {
		if f.Name == name {
			return true
		}
	}
	return false
}

func hasIndex(is []IndexDescriptor, name string) bool {
	for _, i := range is {
		if i.Name == name {
			return true
		}
	}
	return false
}

func (c *Catalog) markApplied(txn kv.Txn, name string) {
	c.applied[name] = true
	key := c.meta.Sub(tuple.String(migrationsKey)).Pack(tuple.From(tuple.String(name)))
	txn.SetValue(key, []byte{1})
}

func (c *Catalog) persist(txn kv.Txn, e *Entity) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := c.meta.Sub(tuple.String(entitiesKey)).Pack(tuple.From(tuple.String(e.TypeName)))
	txn.SetValue(key, b)
	return nil
}

// SetIndexState transitions an index's persisted lifecycle state (spec I6:
// disabled -> writeOnly -> readable is the only forward path). The caller
// is responsible for enforcing that ordering; this just persists it.
func (c *Catalog) SetIndexState(txn kv.Txn, typeName, indexName string, state IndexState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[typeName]
	if !ok {
		return fmt.Errorf("catalog: set index state: %w: %s", errs.UnknownEntity, typeName)
	}
	for i := range e.Indexes {
		if e.Indexes[i].Name == indexName {
			e.Indexes[i].State = state
			return c.persist(txn, e)
		}
	}
	return fmt.Errorf("catalog: set index state: %w: %s.%s", errs.UnknownIndex, typeName, indexName)
}

func (c *Catalog) Entities() []*Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	return out
}

func (c *Catalog) Entity(typeName string) (*Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[typeName]
	if !ok {
		return nil, fmt.Errorf("catalog: %w: %s", errs.UnknownEntity, typeName)
	}
	return e, nil
}

func (c *Catalog) IndexDescriptors(typeName string) ([]IndexDescriptor, error) {
	e, err := c.Entity(typeName)
	if err != nil {
		return nil, err
	}
	return e.Indexes, nil
}

func (c *Catalog) AllIndexDescriptors() map[string][]IndexDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]IndexDescriptor, len(c.entities))
	for name, e := range c.entities {
		out[name] = e.Indexes
	}
	return out
}
