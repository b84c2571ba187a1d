package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesBootstrapFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap.yaml")
	contents := `
nodeId: node-1
data:
  dir: /var/lib/tablemesh
listen:
  cmg: 127.0.0.1:7100
  raft: 127.0.0.1:7200
  wire: 127.0.0.1:7300
  admin: 127.0.0.1:7400
peers:
  - nodeId: node-2
    cmg: 127.0.0.1:7101
    raft: 127.0.0.1:7201
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-1", cfg.NodeID)
	require.Equal(t, "/var/lib/tablemesh", cfg.Data.Dir)
	require.Equal(t, "127.0.0.1:7200", cfg.Listen.Raft)
	require.Len(t, cfg.Peers, 1)
	require.Equal(t, "node-2", cfg.Peers[0].NodeID)
}

func TestLoadRejectsMissingNodeID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data:\n  dir: /tmp\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/bootstrap.yaml")
	require.Error(t, err)
}

func TestParseOverlayRoundTrip(t *testing.T) {
	o, err := ParseOverlay(`
# comment
cluster.name = demo
raft.heartbeat-timeout=500ms
`)
	require.NoError(t, err)

	v, ok := o.Get("cluster.name")
	require.True(t, ok)
	require.Equal(t, "demo", v)

	v, ok = o.Get("raft.heartbeat-timeout")
	require.True(t, ok)
	require.Equal(t, "500ms", v)

	_, ok = o.Get("missing.key")
	require.False(t, ok)
}

func TestParseOverlayRejectsMalformedLine(t *testing.T) {
	_, err := ParseOverlay("not-a-pair\n")
	require.Error(t, err)
}

func TestOverlaySetDeleteSubtree(t *testing.T) {
	o := NewOverlay()
	o.Set("raft.heartbeat-timeout", "500ms")
	o.Set("raft.election-timeout", "1500ms")
	o.Set("cluster.name", "demo")

	sub := o.Subtree("raft")
	require.Len(t, sub, 2)
	require.Equal(t, "500ms", sub["raft.heartbeat-timeout"])

	o.Delete("raft.heartbeat-timeout")
	_, ok := o.Get("raft.heartbeat-timeout")
	require.False(t, ok)
	require.Len(t, o.Subtree("raft"), 1)
	require.Len(t, o.Subtree(""), 2)
}
