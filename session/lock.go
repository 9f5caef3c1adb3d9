// Package session implements spec §4.9's synchronized distributed lock and
// the leader-election wrapper built on top of it. The background
// heartbeat-renewal goroutine follows the same context-cancellation +
// WaitGroup shutdown discipline as a periodic monitoring loop, generalized
// here from polling remote node health to renewing a lease on a single KV
// key.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pborman/uuid"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/metrics"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// NewSessionID generates a fresh session identity for a Config that doesn't
// already have one tied to an external process or request ID.
func NewSessionID() string { return uuid.NewRandom().String() }

// LockHolder is spec §4.9's literal lock-record shape, serialized as JSON at
// [lock-subspace][lock][name] — the same marshal-one-record-per-key
// convention builder.RangeSet and catalog.Catalog already use for small,
// infrequently-written persisted state.
type LockHolder struct {
	SessionID     string    `json:"sessionId"`
	SessionName   string    `json:"sessionName"`
	AcquiredAt    time.Time `json:"acquiredAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Config tunes a Lock's acquire/renew/steal behavior.
type Config struct {
	Store             kv.Store
	Sub               subspace.Subspace // the lock subspace; the lock key is Sub.Sub("lock").Sub(name)
	Name              string
	SessionID         string
	SessionName       string
	LockTimeout       time.Duration // how long a heartbeat remains valid
	RenewalInterval   time.Duration // must be < LockTimeout
	AllowLockStealing bool
	StaleThreshold    time.Duration // how long since lastHeartbeat before a held lock is considered abandoned

	// Metrics, when non-nil, receives acquisition/renewal-failure counts.
	Metrics *metrics.Metrics
}

func (c Config) renewalInterval() time.Duration {
	if c.RenewalInterval > 0 {
		return c.RenewalInterval
	}
	return c.lockTimeout() / 3
}

func (c Config) lockTimeout() time.Duration {
	if c.LockTimeout > 0 {
		return c.LockTimeout
	}
	return 30 * time.Second
}

func (c Config) staleThreshold() time.Duration {
	if c.StaleThreshold > 0 {
		return c.StaleThreshold
	}
	return c.lockTimeout()
}

// Lock is a single-holder distributed lock over one key in cfg.Sub.
type Lock struct {
	cfg Config

	mu       sync.Mutex
	held     bool
	lost     bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg Config) *Lock {
	return &Lock{cfg: cfg}
}

func (l *Lock) key() []byte {
	return l.cfg.Sub.Sub(tuple.String("lock")).Sub(tuple.String(l.cfg.Name)).Bytes()
}

// IsHeld reports whether this Lock currently believes it holds the lock.
// It returns false (never errs.LockLost) once a renewal failure has marked
// the lock lost — callers should check Err() to distinguish "never
// acquired" from "lost after acquiring".
func (l *Lock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held && !l.lost
}

// Err reports errs.LockLost if a background renewal failed since the last
// successful acquire, nil otherwise.
func (l *Lock) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return errs.LockLost
	}
	return nil
}

// Acquire attempts to take the lock (spec §4.9's literal acquire semantics):
// absent holder -> take it; same session already holds it -> refresh;
// stale holder with stealing allowed -> overwrite; otherwise -> false, nil.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	now := time.Now()
	var acquired bool
	err := l.cfg.Store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		holder, ok, err := l.readHolder(txn)
		if err != nil {
			return err
		}
		switch {
		case !ok:
			acquired = true
		case holder.SessionID == l.cfg.SessionID:
			acquired = true
		case l.cfg.AllowLockStealing && now.Sub(holder.LastHeartbeat) > l.cfg.staleThreshold():
			acquired = true
		default:
			acquired = false
		}
		if !acquired {
			return nil
		}
		next := LockHolder{
			SessionID:     l.cfg.SessionID,
			SessionName:   l.cfg.SessionName,
			AcquiredAt:    now,
			LastHeartbeat: now,
			ExpiresAt:     now.Add(l.cfg.lockTimeout()),
		}
		if ok && holder.SessionID == l.cfg.SessionID {
			next.AcquiredAt = holder.AcquiredAt
		}
		return l.writeHolder(txn, next)
	})
	if err != nil {
		return false, fmt.Errorf("session: acquire %q: %w", l.cfg.Name, err)
	}
	if acquired {
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.LockAcquisitions.Inc()
		}
		l.startRenewal()
	}
	return acquired, nil
}

// Release atomically clears the lock key iff this session is the current
// holder, and cancels the renewal goroutine.
func (l *Lock) Release(ctx context.Context) error {
	l.stopRenewal()
	err := l.cfg.Store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		holder, ok, err := l.readHolder(txn)
		if err != nil {
			return err
		}
		if !ok || holder.SessionID != l.cfg.SessionID {
			return nil
		}
		txn.Clear(l.key())
		return nil
	})
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("session: release %q: %w", l.cfg.Name, err)
	}
	return nil
}

// Execute acquires the lock, runs work, and releases on every path
// including a panic-free error return from work itself (spec §4.9:
// "execute(work) acquires, runs, releases on all paths").
func (l *Lock) Execute(ctx context.Context, work func(ctx context.Context) error) error {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session: could not acquire lock %q: %w", l.cfg.Name, errs.LockNotAcquired)
	}
	defer l.Release(ctx)
	return work(ctx)
}

func (l *Lock) readHolder(txn kv.Txn) (LockHolder, bool, error) {
	raw, ok := txn.GetValue(l.key())
	if !ok {
		return LockHolder{}, false, nil
	}
	var holder LockHolder
	if err := json.Unmarshal(raw, &holder); err != nil {
		return LockHolder{}, false, fmt.Errorf("session: decode lock holder: %w", err)
	}
	return holder, true, nil
}

func (l *Lock) writeHolder(txn kv.Txn, holder LockHolder) error {
	raw, err := json.Marshal(holder)
	if err != nil {
		return fmt.Errorf("session: encode lock holder: %w", err)
	}
	txn.SetValue(l.key(), raw)
	return nil
}

// CurrentHolder reads the lock's current holder without attempting to
// acquire it.
func (l *Lock) CurrentHolder(ctx context.Context) (LockHolder, bool, error) {
	var holder LockHolder
	var ok bool
	err := l.cfg.Store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		var err error
		holder, ok, err = l.readHolder(txn)
		return err
	})
	if err != nil {
		return LockHolder{}, false, fmt.Errorf("session: current holder %q: %w", l.cfg.Name, err)
	}
	return holder, ok, nil
}

func (l *Lock) startRenewal() {
	l.mu.Lock()
	l.held = true
	l.lost = false
	if l.cancel != nil {
		l.mu.Unlock()
		return // renewal already running from a prior Acquire (refresh case)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.renewalLoop(ctx)
}

func (l *Lock) stopRenewal() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		l.wg.Wait()
	}
}

func (l *Lock) renewalLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.renewalInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.renewOnce(ctx); err != nil {
				log.Warn("session: lock renewal failed, marking lost", "lock", l.cfg.Name, "err", err)
				if l.cfg.Metrics != nil {
					l.cfg.Metrics.LockRenewalFailures.Inc()
				}
				l.mu.Lock()
				l.lost = true
				l.held = false
				l.mu.Unlock()
				return
			}
		}
	}
}

func (l *Lock) renewOnce(ctx context.Context) error {
	now := time.Now()
	return l.cfg.Store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		holder, ok, err := l.readHolder(txn)
		if err != nil {
			return err
		}
		if !ok || holder.SessionID != l.cfg.SessionID {
			return fmt.Errorf("session: lock %q no longer held by this session", l.cfg.Name)
		}
		holder.LastHeartbeat = now
		holder.ExpiresAt = now.Add(l.cfg.lockTimeout())
		return l.writeHolder(txn, holder)
	})
}
