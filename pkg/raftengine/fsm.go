package raftengine

import (
	"io"

	"github.com/hashicorp/raft"
)

// Applier is the domain state machine a Group drives: pkg/mvcc's
// PartitionStorage for a partition group, or pkg/cmg's state machine
// for the bootstrap group. It mirrors the teacher's WarrenFSM shape
// (Apply/Snapshot/Restore) but the command payload and the snapshot
// format are owned entirely by the caller.
type Applier interface {
	Apply(entry []byte) any
	Snapshot() (ApplierSnapshot, error)
	Restore(io.ReadCloser) error
}

// ApplierSnapshot persists a point-in-time copy of the domain state
// machine, mirroring raft.FSMSnapshot.
type ApplierSnapshot interface {
	Persist(sink raft.SnapshotSink) error
	Release()
}

// fsmAdapter satisfies raft.FSM by delegating to an Applier, the way
// the teacher's WarrenFSM satisfies it by delegating to pkg/storage.
type fsmAdapter struct {
	applier Applier
}

func (f *fsmAdapter) Apply(log *raft.Log) interface{} {
	return f.applier.Apply(log.Data)
}

func (f *fsmAdapter) Snapshot() (raft.FSMSnapshot, error) {
	snap, err := f.applier.Snapshot()
	if err != nil {
		return nil, err
	}
	return snapshotAdapter{snap}, nil
}

func (f *fsmAdapter) Restore(rc io.ReadCloser) error {
	return f.applier.Restore(rc)
}

type snapshotAdapter struct {
	snap ApplierSnapshot
}

func (s snapshotAdapter) Persist(sink raft.SnapshotSink) error { return s.snap.Persist(sink) }
func (s snapshotAdapter) Release()                             { s.snap.Release() }
