package builder

import (
	"errors"
	"time"

	"github.com/ledgerwatch/coreindex/errs"
)

// Throttler is the adaptive batch-size/sleep controller of spec §4.4 step 4:
// AIMD-style — a successful batch grows the batch size additively, a failed
// one shrinks it multiplicatively and backs off the inter-batch sleep. It
// plays the same role as the teacher's fixed `logIndicesCheckSizeEvery`
// ticker in `stage_log_index.go`, generalized from a constant cadence to a
// feedback-driven one since an arbitrary index build has no natural
// block-processing rate to calibrate against.
type Throttler struct {
	batchSize int
	sleep     time.Duration

	minBatch, maxBatch int
	minSleep, maxSleep time.Duration

	growStep    int
	shrinkRatio float64
	backoffMul  float64
}

// DefaultThrottler returns a Throttler with the builder's default bounds,
// the same values config.Default carries in its Throttler section.
func DefaultThrottler() *Throttler {
	return &Throttler{
		batchSize:   500,
		sleep:       0,
		minBatch:    10,
		maxBatch:    10000,
		minSleep:    0,
		maxSleep:    5 * time.Second,
		growStep:    100,
		shrinkRatio: 0.5,
		backoffMul:  2,
	}
}

// BatchSize is the item count the next batch should target.
func (t *Throttler) BatchSize() int { return t.batchSize }

// Sleep is the duration to wait before starting the next batch.
func (t *Throttler) Sleep() time.Duration { return t.sleep }

// ReportSuccess grows batchSize additively by growStep (capped at maxBatch)
// and relaxes sleep back toward zero, per spec §4.4's "success -> grow
// batch" rule.
func (t *Throttler) ReportSuccess() {
	t.batchSize += t.growStep
	if t.batchSize > t.maxBatch {
		t.batchSize = t.maxBatch
	}
	t.sleep /= 2
	if t.sleep < t.minSleep {
		t.sleep = t.minSleep
	}
}

// ReportFailure classifies err as retryable or not (spec §4.4's "classify
// errors as retryable/non-retryable"). A retryable error shrinks batchSize
// multiplicatively and backs off sleep exponentially, then returns true so
// the caller retries the same batch bounds. A non-retryable error leaves
// the throttler state untouched and returns false so the caller aborts the
// build.
func (t *Throttler) ReportFailure(err error) (retry bool) {
	if !Retryable(err) {
		return false
	}
	t.batchSize = int(float64(t.batchSize) * t.shrinkRatio)
	if t.batchSize < t.minBatch {
		t.batchSize = t.minBatch
	}
	if t.sleep == 0 {
		t.sleep = 100 * time.Millisecond
	} else {
		t.sleep = time.Duration(float64(t.sleep) * t.backoffMul)
	}
	if t.sleep > t.maxSleep {
		t.sleep = t.maxSleep
	}
	return true
}

// Retryable reports whether err represents a transient condition worth
// retrying (spec §7's errs.Transient) as opposed to a structural one
// (bad data, a corrupted catalog entry) that retrying cannot fix.
func Retryable(err error) bool {
	return errors.Is(err, errs.Transient)
}
