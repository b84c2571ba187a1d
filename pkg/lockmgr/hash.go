package lockmgr

import "context"

// HashLocker implements spec §4.4's hash-index locking rule: lookups
// take Shared, inserts/removes take Exclusive on a unique index or
// IntentExclusive on a non-unique one.
type HashLocker struct {
	mgr     *LockManager
	indexID string
	unique  bool
}

// NewHashLocker binds a locker to one hash index.
func NewHashLocker(mgr *LockManager, indexID string, unique bool) *HashLocker {
	return &HashLocker{mgr: mgr, indexID: indexID, unique: unique}
}

func (h *HashLocker) insertMode() Mode {
	if h.unique {
		return Exclusive
	}
	return IntentExclusive
}

// Lookup acquires a Shared lock on tupleBytes for txnID.
func (h *HashLocker) Lookup(ctx context.Context, tupleBytes []byte, txnID string) error {
	return h.mgr.Acquire(ctx, Key{IndexID: h.indexID, Bytes: string(tupleBytes)}, Shared, txnID)
}

// Insert acquires the insert-mode lock on tupleBytes for txnID.
func (h *HashLocker) Insert(ctx context.Context, tupleBytes []byte, txnID string) error {
	return h.mgr.Acquire(ctx, Key{IndexID: h.indexID, Bytes: string(tupleBytes)}, h.insertMode(), txnID)
}

// Remove acquires the same lock mode as Insert, per spec §4.4.
func (h *HashLocker) Remove(ctx context.Context, tupleBytes []byte, txnID string) error {
	return h.Insert(ctx, tupleBytes, txnID)
}
