package builder

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/metrics"
	"github.com/ledgerwatch/coreindex/subspace"
)

const progressLogEvery = 30 * time.Second

// Config is everything a build needs: which index, where its worklist and
// throttler state persist, and the source of rows to scan. Catalog and
// TypeName/IndexName identify the index descriptor whose State this build
// drives through disabled -> writeOnly -> readable (spec I6).
type Config struct {
	Store      kv.Store
	Catalog    *catalog.Catalog
	TypeName   string
	IndexName  string
	Maintainer indexing.Maintainer
	Source     Source

	// ProgressSub roots the persisted RangeSet for this build; distinct
	// from the index's own subspace so progress state never collides with
	// index data during a ClearIndexRange.
	ProgressSub subspace.Subspace

	// ClearIndexRange, when non-nil, wipes the target index's subspace
	// before the first batch (spec §4.4 step 2) — used for rebuilding a
	// corrupted index, skipped for a brand-new one with nothing to clear.
	ClearIndexRange func(txn kv.Txn)

	Verify *VerifyConfig

	// Metrics, when non-nil, receives throughput observations for this
	// build (rows indexed, batches flushed, current batch size/sleep).
	Metrics *metrics.Metrics
}

// VerifyConfig controls the optional reservoir-sample verification pass
// (spec §4.4 step 5).
type VerifyConfig struct {
	SampleSize   int     // typical 1000
	MissRate     float64 // typical 0.001 (0.1%)
	ComputeKey   func(item *indexing.Item) [][]byte
}

// Run drives the full online-build pipeline of spec §4.4: transition to
// writeOnly, optionally clear the target range, scan the source in
// throttled batches with crash-resumable progress, optionally sample-verify,
// then transition to readable.
func Run(ctx context.Context, cfg Config) error {
	if err := setIndexState(ctx, cfg, catalog.StateWriteOnly); err != nil {
		return fmt.Errorf("builder: transition to writeOnly: %w", err)
	}

	if cfg.ClearIndexRange != nil {
		if err := cfg.Store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
			cfg.ClearIndexRange(txn)
			return nil
		}); err != nil {
			return fmt.Errorf("builder: clear index range: %w", err)
		}
	}

	rs, err := initRangeSet(ctx, cfg)
	if err != nil {
		return err
	}

	if err := runBatchLoop(ctx, cfg, rs); err != nil {
		return err
	}

	if cfg.Verify != nil {
		if err := verify(ctx, cfg); err != nil {
			return fmt.Errorf("builder: sample verification: %w", err)
		}
	}

	if err := setIndexState(ctx, cfg, catalog.StateReadable); err != nil {
		return fmt.Errorf("builder: transition to readable: %w", err)
	}
	if err := cfg.Store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		rs.Clear(txn)
		return nil
	}); err != nil {
		return fmt.Errorf("builder: clear progress: %w", err)
	}
	return nil
}

// setIndexState transitions the index's catalog state in its own
// transaction, outside the batch loop's transactions.
func setIndexState(ctx context.Context, cfg Config, state catalog.IndexState) error {
	return cfg.Store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return cfg.Catalog.SetIndexState(txn, cfg.TypeName, cfg.IndexName, state)
	})
}

func initRangeSet(ctx context.Context, cfg Config) (*RangeSet, error) {
	var rs *RangeSet
	err := cfg.Store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		loaded, err := Load(txn, cfg.ProgressSub)
		if err != nil {
			return err
		}
		if len(loaded.ranges) > 0 {
			rs = loaded
			return nil
		}
		begin, end := cfg.Source.Range()
		rs = NewRangeSet(cfg.ProgressSub, begin, end)
		return nil
	})
	return rs, err
}

// runBatchLoop is spec §4.4 step 4: repeat until the RangeSet is empty,
// each batch its own transaction, throttled between batches.
func runBatchLoop(ctx context.Context, cfg Config, rs *RangeSet) error {
	th := DefaultThrottler()
	logEvery := time.NewTicker(progressLogEvery)
	defer logEvery.Stop()

	processed := 0
	for !rs.Empty() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rangeIndex, begin, end, beginExclusive, ok := rs.NextBatchBounds()
		if !ok {
			break
		}
		n, err := runBatch(ctx, cfg, rs, rangeIndex, begin, end, beginExclusive, th.BatchSize())
		if err != nil {
			if th.ReportFailure(err) {
				log.Warn("index build batch failed, backing off", "index", cfg.IndexName, "err", err, "newBatchSize", th.BatchSize(), "sleep", th.Sleep())
				time.Sleep(th.Sleep())
				continue
			}
			return err
		}
		th.ReportSuccess()
		processed += n
		if cfg.Metrics != nil {
			cfg.Metrics.BuilderRowsIndexed.Add(float64(n))
			cfg.Metrics.BuilderBatchesFlushed.Inc()
			cfg.Metrics.BuilderBatchSize.Set(float64(th.BatchSize()))
			cfg.Metrics.BuilderSleepSeconds.Set(th.Sleep().Seconds())
		}

		select {
		case <-logEvery.C:
			log.Info("index build progress", "index", cfg.IndexName, "processed", processed, "batchSize", th.BatchSize())
		default:
		}
		if th.Sleep() > 0 {
			time.Sleep(th.Sleep())
		}
	}
	return nil
}

// runBatch is spec §4.4's per-batch body: stream [begin, end), scanItem
// each row up to batchSize, record progress or mark the range complete, and
// persist the RangeSet — all in the same transaction.
func runBatch(ctx context.Context, cfg Config, rs *RangeSet, rangeIndex int, begin, end []byte, beginExclusive bool, batchSize int) (int, error) {
	beginSel := kv.FirstGreaterOrEqual(begin)
	if beginExclusive {
		beginSel = kv.FirstGreaterThan(begin)
	}
	count := 0
	err := cfg.Store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		it := txn.GetRange(beginSel, kv.FirstGreaterOrEqual(end), streamingModeFor(batchSize))
		var lastKey []byte
		for count < batchSize && it.Next() {
			row := it.KV()
			lastKey = row.Key
			item, ok, err := cfg.Source.Decode(ctx, txn, row)
			if err != nil {
				return err
			}
			if ok {
				if err := cfg.Maintainer.ScanItem(ctx, txn, item); err != nil {
					return err
				}
			}
			count++
		}
		if err := it.Err(); err != nil {
			return err
		}

		if count < batchSize {
			rs.MarkRangeComplete(rangeIndex)
		} else if lastKey != nil {
			rs.RecordProgress(rangeIndex, lastKey)
		}
		return rs.Persist(txn)
	})
	return count, err
}

// streamingModeFor mirrors spec §4.4's "adaptive streaming mode": a small
// requested batch favors low per-call overhead (StreamSmall), a large one
// favors throughput (StreamLarge), matching the FoundationDB streaming-mode
// selection the kv package's StreamingMode values are modeled on.
func streamingModeFor(batchSize int) kv.StreamingMode {
	switch {
	case batchSize <= 50:
		return kv.StreamSmall
	case batchSize >= 2000:
		return kv.StreamLarge
	default:
		return kv.StreamMedium
	}
}

// verify is spec §4.4 step 5: reservoir-sample SampleSize source rows,
// confirm each produced the expected target entry, fail if the miss rate
// exceeds the configured threshold.
func verify(ctx context.Context, cfg Config) error {
	v := cfg.Verify
	var sample []*indexing.Item
	err := cfg.Store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		begin, end := cfg.Source.Range()
		it := txn.GetRangeSnapshot(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
		seen := 0
		for it.Next() {
			row := it.KV()
			item, ok, err := cfg.Source.Decode(ctx, txn, row)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			seen++
			// Standard reservoir sampling (Algorithm R): keep the first
			// SampleSize rows, then replace uniformly at random with
			// decreasing probability thereafter.
			if len(sample) < v.SampleSize {
				sample = append(sample, item)
			} else if j := rand.Intn(seen); j < v.SampleSize {
				sample[j] = item
			}
		}
		return it.Err()
	})
	if err != nil {
		return err
	}
	if len(sample) == 0 {
		return nil
	}

	misses := 0
	for _, item := range sample {
		err := cfg.Store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
			for _, key := range v.ComputeKey(item) {
				val, err := txn.GetValue(key)
				if err != nil {
					return err
				}
				if val == nil {
					misses++
					return nil
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	rate := float64(misses) / float64(len(sample))
	if rate > v.MissRate {
		return fmt.Errorf("%w: sampled %d, missed %d (%.4f%% > threshold %.4f%%)", errs.InvalidStructure, len(sample), misses, rate*100, v.MissRate*100)
	}
	return nil
}
