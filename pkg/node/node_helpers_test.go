package node

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/cuemby/tablemesh/pkg/raftengine"
	"github.com/stretchr/testify/require"
)

func mustMarshal(t *testing.T, cmd partitionCommand) []byte {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return data
}

// fakeSnapshotSink is a buffer-backed stand-in for raft.SnapshotSink,
// enough to drive an ApplierSnapshot.Persist call in a test without
// spinning up a real raft.Raft instance.
type fakeSnapshotSink struct {
	bytes.Buffer
}

func (s *fakeSnapshotSink) ID() string      { return "test-snapshot" }
func (s *fakeSnapshotSink) Cancel() error   { return nil }
func (s *fakeSnapshotSink) Close() error    { return nil }

func snapshotReadCloser(t *testing.T, snap raftengine.ApplierSnapshot) io.ReadCloser {
	t.Helper()
	sink := &fakeSnapshotSink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()
	return io.NopCloser(bytes.NewReader(sink.Bytes()))
}
