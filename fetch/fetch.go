// Package fetch implements spec §4.11's bulk primary-key fetcher: batched,
// order-preserving reads with optional locality-aware key reordering, a
// streaming variant, and a parallel read-only coordinator for workloads
// that don't need cross-chunk consistency.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/tuple"
)

// Config tunes a Fetcher (spec §4.11's literal parameter list).
type Config struct {
	Store             kv.Store
	Get               func(txn kv.Txn, key tuple.Tuple) ([]byte, bool, error)
	MaxParallelism    int
	BatchSize         int
	UseLocalityHints  bool
	LocalityGroupSize int
	StreamResults     bool
}

func (c Config) maxParallelism() int {
	if c.MaxParallelism > 0 {
		return c.MaxParallelism
	}
	return 4
}

func (c Config) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return 1000
}

func (c Config) localityGroupSize() int {
	if c.LocalityGroupSize > 0 {
		return c.LocalityGroupSize
	}
	return c.batchSize()
}

// Result is one fetched row, reassembled in request order.
type Result struct {
	Key   tuple.Tuple
	Value []byte
	Found bool
}

// Fetcher is spec §4.11's bulk primary-key fetcher.
type Fetcher struct {
	cfg Config
}

func New(cfg Config) *Fetcher {
	return &Fetcher{cfg: cfg}
}

// Fetch reads every key within one transaction, each batch sequential
// within that transaction (spec §4.11: "fetches in batches, each batch
// within a supplied transaction"), reassembling results in the caller's
// original request order regardless of any internal locality reordering.
func (f *Fetcher) Fetch(ctx context.Context, txn kv.Txn, keys []tuple.Tuple) ([]Result, error) {
	order := scanOrder(keys, f.cfg.UseLocalityHints, f.cfg.localityGroupSize())
	results := make([]Result, len(keys))
	for start := 0; start < len(order); start += f.cfg.batchSize() {
		end := start + f.cfg.batchSize()
		if end > len(order) {
			end = len(order)
		}
		for _, idx := range order[start:end] {
			value, found, err := f.cfg.Get(txn, keys[idx])
			if err != nil {
				return nil, fmt.Errorf("fetch: key %d: %w", idx, err)
			}
			results[idx] = Result{Key: keys[idx], Value: value, Found: found}
		}
	}
	return results, nil
}

// StreamFetch is the low-latency variant of Fetch: it passes results to emit
// during the scan rather than collecting the full slice first. Like Fetch,
// it reads in the (possibly locality-reordered) scan order within a single
// transaction; a result read ahead of an earlier-requested key is held back
// until every earlier result has been emitted, so emit sees request order.
func (f *Fetcher) StreamFetch(ctx context.Context, txn kv.Txn, keys []tuple.Tuple, emit func(Result) error) error {
	order := scanOrder(keys, f.cfg.UseLocalityHints, f.cfg.localityGroupSize())
	pending := make(map[int]Result, f.cfg.batchSize())
	next := 0
	flush := func(idx int, r Result) error {
		pending[idx] = r
		for {
			r, ok := pending[next]
			if !ok {
				return nil
			}
			if err := emit(r); err != nil {
				return err
			}
			delete(pending, next)
			next++
		}
	}
	for _, idx := range order {
		value, found, err := f.cfg.Get(txn, keys[idx])
		if err != nil {
			return fmt.Errorf("fetch: key %d: %w", idx, err)
		}
		if err := flush(idx, Result{Key: keys[idx], Value: value, Found: found}); err != nil {
			return err
		}
	}
	return nil
}

// scanOrder returns the index permutation Fetch/StreamFetch should visit
// keys in. With locality hints enabled, keys are grouped into chunks of
// localityGroupSize and each chunk is sorted by packed byte order (spec
// §4.11: "optionally reorders them by byte order to improve storage-server
// locality") — grouping bounds how far a key travels from its original
// position, keeping memory for the reassembly map bounded.
func scanOrder(keys []tuple.Tuple, useLocalityHints bool, groupSize int) []int {
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	if !useLocalityHints {
		return order
	}
	for start := 0; start < len(order); start += groupSize {
		end := start + groupSize
		if end > len(order) {
			end = len(order)
		}
		group := order[start:end]
		sort.Slice(group, func(i, j int) bool {
			return bytes.Compare(keys[group[i]].Pack(), keys[group[j]].Pack()) < 0
		})
	}
	return order
}

// ParallelFetch splits keys into cfg.maxParallelism chunks, each read in its
// own read-only transaction concurrently via an errgroup (spec §4.11: "a
// parallel coordinator splits keys into N chunks across separate
// transactions for read-only workloads where consistency across chunks is
// not required").
//
// Caveat: because each chunk reads in a separate transaction, the result set
// is not a single consistent snapshot — concurrent writes between chunks'
// transactions can be observed inconsistently across the returned slice.
// Use Fetch instead when cross-key consistency matters.
func (f *Fetcher) ParallelFetch(ctx context.Context, keys []tuple.Tuple) ([]Result, error) {
	n := f.cfg.maxParallelism()
	if n > len(keys) {
		n = len(keys)
	}
	if n <= 1 {
		var out []Result
		err := f.cfg.Store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
			var err error
			out, err = f.Fetch(ctx, txn, keys)
			return err
		})
		return out, err
	}

	chunkSize := (len(keys) + n - 1) / n
	results := make([]Result, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for c := 0; c < n; c++ {
		start := c * chunkSize
		if start >= len(keys) {
			break
		}
		end := start + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		offset := start
		g.Go(func() error {
			return f.cfg.Store.WithTransaction(gctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
				chunkResults, err := f.Fetch(gctx, txn, chunk)
				if err != nil {
					return err
				}
				copy(results[offset:offset+len(chunkResults)], chunkResults)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
