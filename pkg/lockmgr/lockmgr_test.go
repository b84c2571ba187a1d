package lockmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSharedLocksCoexist(t *testing.T) {
	mgr := New()
	key := Key{IndexID: "idx1", Bytes: "k"}
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, key, Shared, "t1"))
	require.NoError(t, mgr.Acquire(ctx, key, Shared, "t2"))

	mode, ok := mgr.HeldMode(key, "t1")
	require.True(t, ok)
	require.Equal(t, Shared, mode)
}

func TestExclusiveBlocksShared(t *testing.T) {
	mgr := New()
	key := Key{IndexID: "idx1", Bytes: "k"}
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, key, Exclusive, "t1"))

	done := make(chan struct{})
	go func() {
		_ = mgr.Acquire(ctx, key, Shared, "t2")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shared lock granted while exclusive held")
	case <-time.After(50 * time.Millisecond):
	}

	mgr.Release("t1")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shared lock never granted after release")
	}
}

func TestIntentExclusiveCompatibleWithItself(t *testing.T) {
	mgr := New()
	key := Key{IndexID: "idx1", Bytes: "k"}
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, key, IntentExclusive, "t1"))
	require.NoError(t, mgr.Acquire(ctx, key, IntentExclusive, "t2"))
}

func TestIntentExclusiveIncompatibleWithShared(t *testing.T) {
	mgr := New()
	key := Key{IndexID: "idx1", Bytes: "k"}
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, key, Shared, "t1"))

	done := make(chan error, 1)
	go func() {
		done <- mgr.Acquire(ctx, key, IntentExclusive, "t2")
	}()

	select {
	case <-done:
		t.Fatal("IX granted over held S")
	case <-time.After(50 * time.Millisecond):
	}

	mgr.Release("t1")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("IX never granted after S released")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	mgr := New()
	key := Key{IndexID: "idx1", Bytes: "k"}
	ctx := context.Background()
	require.NoError(t, mgr.Acquire(ctx, key, Exclusive, "t1"))

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := mgr.Acquire(cctx, key, Shared, "t2")
	require.Error(t, err)
}

func TestReleaseFreesAllLocksForTxn(t *testing.T) {
	mgr := New()
	ctx := context.Background()
	k1 := Key{IndexID: "idx1", Bytes: "a"}
	k2 := Key{IndexID: "idx1", Bytes: "b"}

	require.NoError(t, mgr.Acquire(ctx, k1, Exclusive, "t1"))
	require.NoError(t, mgr.Acquire(ctx, k2, Exclusive, "t1"))
	mgr.Release("t1")

	_, ok := mgr.HeldMode(k1, "t1")
	require.False(t, ok)
	_, ok = mgr.HeldMode(k2, "t1")
	require.False(t, ok)
}

func TestReentrantAcquireUpgrades(t *testing.T) {
	mgr := New()
	key := Key{IndexID: "idx1", Bytes: "k"}
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, key, Shared, "t1"))
	require.NoError(t, mgr.Acquire(ctx, key, Exclusive, "t1"))

	mode, ok := mgr.HeldMode(key, "t1")
	require.True(t, ok)
	require.Equal(t, Exclusive, mode)
}

func TestHashLockerUniqueInsertIsExclusive(t *testing.T) {
	mgr := New()
	locker := NewHashLocker(mgr, "uidx", true)
	ctx := context.Background()

	require.NoError(t, locker.Insert(ctx, []byte("k"), "t1"))

	done := make(chan struct{})
	go func() {
		_ = locker.Lookup(ctx, []byte("k"), "t2")
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("lookup granted while unique insert lock held")
	case <-time.After(50 * time.Millisecond):
	}
	mgr.Release("t1")
	<-done
}

func TestHashLockerNonUniqueInsertsConcurrent(t *testing.T) {
	mgr := New()
	locker := NewHashLocker(mgr, "nuidx", false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		txn := "t" + string(rune('0'+i))
		go func(txn string) {
			defer wg.Done()
			require.NoError(t, locker.Insert(ctx, []byte("k"), txn))
		}(txn)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("non-unique inserts did not all complete concurrently")
	}
}

func TestSortedLockerRemoveUsesIntentExclusive(t *testing.T) {
	mgr := New()
	locker := NewSortedLocker(mgr, "sidx")
	ctx := context.Background()

	require.NoError(t, locker.Remove(ctx, []byte("k"), "t1"))
	mode, ok := mgr.HeldMode(Key{IndexID: "sidx", Bytes: "k"}, "t1")
	require.True(t, ok)
	require.Equal(t, IntentExclusive, mode)
}

func TestSortedLockerInsertIsExclusive(t *testing.T) {
	mgr := New()
	locker := NewSortedLocker(mgr, "sidx")
	ctx := context.Background()

	require.NoError(t, locker.Insert(ctx, []byte("k"), "t1"))

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := mgr.Acquire(cctx, Key{IndexID: "sidx", Bytes: "k"}, Shared, "t2")
	require.Error(t, err)
}
