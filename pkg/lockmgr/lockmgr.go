package lockmgr

import (
	"context"
	"sync"

	"github.com/cuemby/tablemesh/pkg/kverrors"
)

// Mode is a lock granularity, per spec §4.4.
type Mode int

const (
	Shared Mode = iota
	IntentExclusive
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "S"
	case IntentExclusive:
		return "IX"
	case Exclusive:
		return "X"
	default:
		return "?"
	}
}

// compatible reports whether a holder of `held` and a requester of
// `want` may coexist on the same key. X is compatible with nothing;
// S and IX are mutually incompatible; S/S and IX/IX are compatible.
func compatible(held, want Mode) bool {
	if held == Exclusive || want == Exclusive {
		return false
	}
	return held == want
}

// stronger returns the more restrictive of two modes a single owner
// holds simultaneously (reentrant re-acquisition / upgrade).
func stronger(a, b Mode) Mode {
	if a == Exclusive || b == Exclusive {
		return Exclusive
	}
	if a == IntentExclusive || b == IntentExclusive {
		return IntentExclusive
	}
	return Shared
}

// Key identifies a lockable unit: an index entry addressed by its
// encoded key bytes, per spec §4.4 "Locks are keyed by (index_id,
// byte_sequence)".
type Key struct {
	IndexID string
	Bytes   string
}

type entry struct {
	cond    *sync.Cond
	holders map[string]Mode // txnID -> mode
	waiters int
}

// LockManager serializes index access across transactions for hash
// and sorted indexes alike; both lockers below share one instance so a
// lock held via one API is visible to the other.
type LockManager struct {
	mu      sync.Mutex
	entries map[Key]*entry
	byTxn   map[string]map[Key]struct{}
}

// New creates an empty LockManager.
func New() *LockManager {
	return &LockManager{
		entries: make(map[Key]*entry),
		byTxn:   make(map[string]map[Key]struct{}),
	}
}

// Acquire blocks until txnID holds mode on key, or ctx is cancelled.
// Re-acquiring a compatible or weaker mode for the same txnID is a
// no-op; requesting a stronger mode upgrades it in place.
func (m *LockManager) Acquire(ctx context.Context, key Key, mode Mode, txnID string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{holders: make(map[string]Mode)}
		e.cond = sync.NewCond(&m.mu)
		m.entries[key] = e
	}

	stop := make(chan struct{})
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				e.cond.Broadcast()
				m.mu.Unlock()
			case <-stop:
			}
		}()
	}
	defer close(stop)

	for {
		if ctx.Err() != nil {
			m.mu.Unlock()
			return kverrors.Wrap(kverrors.Timeout, "lock acquire cancelled", ctx.Err())
		}
		if m.grantableLocked(e, mode, txnID) {
			cur, held := e.holders[txnID]
			if !held {
				cur = mode
			}
			e.holders[txnID] = stronger(cur, mode)
			m.trackLocked(txnID, key)
			m.mu.Unlock()
			return nil
		}
		e.waiters++
		e.cond.Wait()
		e.waiters--
	}
}

func (m *LockManager) grantableLocked(e *entry, mode Mode, txnID string) bool {
	for holder, held := range e.holders {
		if holder == txnID {
			continue
		}
		if !compatible(held, mode) {
			return false
		}
	}
	return true
}

func (m *LockManager) trackLocked(txnID string, key Key) {
	set, ok := m.byTxn[txnID]
	if !ok {
		set = make(map[Key]struct{})
		m.byTxn[txnID] = set
	}
	set[key] = struct{}{}
}

// Release drops every lock held by txnID, waking waiters. Called on
// transaction commit or abort, per spec §4.4.
func (m *LockManager) Release(txnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.byTxn[txnID] {
		e, ok := m.entries[key]
		if !ok {
			continue
		}
		delete(e.holders, txnID)
		if len(e.holders) == 0 && e.waiters == 0 {
			delete(m.entries, key)
		} else {
			e.cond.Broadcast()
		}
	}
	delete(m.byTxn, txnID)
}

// HeldMode reports the mode txnID currently holds on key, if any. Used
// by tests and diagnostics.
func (m *LockManager) HeldMode(key Key, txnID string) (Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, false
	}
	mode, ok := e.holders[txnID]
	return mode, ok
}
