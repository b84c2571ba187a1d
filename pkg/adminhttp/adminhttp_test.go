package adminhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/tablemesh/pkg/cmg"
	"github.com/cuemby/tablemesh/pkg/config"
	"github.com/cuemby/tablemesh/pkg/events"
	"github.com/cuemby/tablemesh/pkg/types"
	"github.com/stretchr/testify/require"
)

type noopSender struct{}

func (noopSender) SendClusterState(ctx context.Context, nodeID string, state types.ClusterState) error {
	return nil
}

func newTestServer() *Server {
	broker := events.NewBroker()
	broker.Start()
	c := cmg.New("n1", "127.0.0.1:0", "", noopSender{}, func() map[string]bool { return nil }, broker)
	return New(c, nil, func() []string { return []string{"n1", "n2"} }, config.NewOverlay(), config.NewOverlay(), "n1", "0.1.0-test")
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func TestClusterInitRejectsEmptyClusterName(t *testing.T) {
	s := newTestServer()
	w := do(s, "POST", "/management/v1/cluster/init", []byte(`{"cluster_name":"","cmg_nodes":["n1"]}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestClusterInitRejectsEmptyCMGNodes(t *testing.T) {
	s := newTestServer()
	w := do(s, "POST", "/management/v1/cluster/init", []byte(`{"cluster_name":"prod","cmg_nodes":[]}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClusterStateReturns404WhenUninitialized(t *testing.T) {
	s := newTestServer()
	w := do(s, "GET", "/management/v1/cluster/state", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestClusterTopologyPhysicalListsNodes(t *testing.T) {
	s := newTestServer()
	w := do(s, "GET", "/management/v1/cluster/topology/physical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out []nodeDescriptorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, "n1", out[0].ID)
}

func TestClusterTopologyRejectsUnknownKind(t *testing.T) {
	s := newTestServer()
	w := do(s, "GET", "/management/v1/cluster/topology/bogus", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNodeStateAndVersion(t *testing.T) {
	s := newTestServer()
	w := do(s, "GET", "/management/v1/node/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state nodeStateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	require.Equal(t, "n1", state.NodeID)
	require.Equal(t, "Uninitialized", state.State)
	require.False(t, state.Leader)

	w = do(s, "GET", "/management/v1/node/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ver nodeVersionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ver))
	require.Equal(t, "0.1.0-test", ver.Version)
}

func TestConfigurationGetPatchRoundTrip(t *testing.T) {
	s := newTestServer()

	w := do(s, "PATCH", "/management/v1/configuration/cluster/raft.heartbeat-timeout",
		[]byte(`{"value":"500ms"}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, "GET", "/management/v1/configuration/cluster/raft.heartbeat-timeout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "500ms", out["raft.heartbeat-timeout"])

	w = do(s, "GET", "/management/v1/configuration/cluster", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 1)
}

func TestConfigurationPatchDottedTextFragment(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest("PATCH", "/management/v1/configuration/node",
		bytes.NewReader([]byte("raft.election-timeout = 1500ms\n")))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	v, ok := s.nodeCfg.Get("raft.election-timeout")
	require.True(t, ok)
	require.Equal(t, "1500ms", v)
}

func TestMetricToggleRequiresSource(t *testing.T) {
	s := newTestServer()
	w := do(s, "POST", "/management/v1/metric/node/enable", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthzReportsStatus(t *testing.T) {
	s := newTestServer()
	w := do(s, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
