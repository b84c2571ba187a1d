package adminhttp

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/cuemby/tablemesh/pkg/cmg"
	"github.com/cuemby/tablemesh/pkg/config"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/metrics"
	"github.com/cuemby/tablemesh/pkg/raftengine"
	"github.com/cuemby/tablemesh/pkg/types"
)

// clusterInitRequest mirrors spec §6's POST /cluster/init body.
type clusterInitRequest struct {
	ClusterName      string   `json:"cluster_name"`
	MetaStorageNodes []string `json:"meta_storage_nodes"`
	CMGNodes         []string `json:"cmg_nodes"`
}

func (s *Server) handleClusterInit(w http.ResponseWriter, r *http.Request) {
	var req clusterInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed request body", err.Error())
		return
	}

	init := cmg.InitRequest{ClusterName: req.ClusterName}

	for _, id := range req.MetaStorageNodes {
		node, ok := s.resolveNode(id)
		if !ok {
			writeProblem(w, http.StatusBadRequest, "unknown meta storage node", id)
			return
		}
		init.MSNodes = append(init.MSNodes, node)
	}
	for _, id := range req.CMGNodes {
		peer, ok := s.resolvePeer(id)
		if !ok {
			writeProblem(w, http.StatusBadRequest, "unknown cmg node", id)
			return
		}
		init.CMGNodes = append(init.CMGNodes, peer)
	}

	if err := s.cmg.Init(init); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) resolveNode(id string) (types.NodeDescriptor, bool) {
	if s.resolver != nil {
		return s.resolver.ResolveNode(id)
	}
	return types.NodeDescriptor{ID: id}, true
}

func (s *Server) resolvePeer(id string) (raftengine.PeerConfig, bool) {
	if s.resolver != nil {
		return s.resolver.ResolvePeer(id)
	}
	return raftengine.PeerConfig{ID: id}, true
}

// clusterStateResponse mirrors spec §6's GET /cluster/state body.
type clusterStateResponse struct {
	CMGNodes   []string          `json:"cmg_nodes"`
	MSNodes    []string          `json:"ms_nodes"`
	ClusterTag clusterTagPayload `json:"cluster_tag"`
}

type clusterTagPayload struct {
	ClusterName string `json:"cluster_name"`
}

func (s *Server) handleClusterState(w http.ResponseWriter, r *http.Request) {
	if s.cmg.State() == cmg.Uninitialized {
		writeProblem(w, http.StatusNotFound, "cluster not initialized", "")
		return
	}

	state := s.cmg.ClusterState()
	msNodes := make([]string, 0, len(state.Topology.Nodes))
	for id := range state.Topology.Nodes {
		msNodes = append(msNodes, id)
	}
	sort.Strings(msNodes)

	writeJSON(w, http.StatusOK, clusterStateResponse{
		CMGNodes:   s.cmg.CMGNodeIDs(),
		MSNodes:    msNodes,
		ClusterTag: clusterTagPayload{ClusterName: state.ClusterName},
	})
}

// nodeDescriptorResponse is one entry in a topology listing.
type nodeDescriptorResponse struct {
	ID          string `json:"id"`
	CMGAddress  string `json:"cmg_address,omitempty"`
	RaftAddress string `json:"raft_address,omitempty"`
	WireAddress string `json:"wire_address,omitempty"`
}

func (s *Server) handleClusterTopology(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("kind") {
	case "logical":
		state := s.cmg.ClusterState()
		out := make([]nodeDescriptorResponse, 0, len(state.Topology.Nodes))
		for _, n := range state.Topology.Nodes {
			out = append(out, nodeDescriptorResponse{
				ID: n.ID, CMGAddress: n.CMGAddress, RaftAddress: n.RaftAddress, WireAddress: n.WireAddress,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		writeJSON(w, http.StatusOK, out)
	case "physical":
		var ids []string
		if s.physical != nil {
			ids = s.physical()
		}
		sort.Strings(ids)
		out := make([]nodeDescriptorResponse, len(ids))
		for i, id := range ids {
			out[i] = nodeDescriptorResponse{ID: id}
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeProblem(w, http.StatusBadRequest, "unknown topology kind", r.PathValue("kind"))
	}
}

func (s *Server) handleConfigGet(overlay *config.Overlay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, overlay.Subtree(""))
	}
}

func (s *Server) handleConfigGetPath(overlay *config.Overlay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.PathValue("path")
		if v, ok := overlay.Get(path); ok {
			writeJSON(w, http.StatusOK, map[string]string{path: v})
			return
		}
		writeJSON(w, http.StatusOK, overlay.Subtree(path))
	}
}

type patchRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleConfigPatch(overlay *config.Overlay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.applyPatch(w, r, overlay, "")
	}
}

func (s *Server) handleConfigPatchPath(overlay *config.Overlay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.applyPatch(w, r, overlay, r.PathValue("path"))
	}
}

// applyPatch parses a PATCH body as either a dotted-path key=value
// fragment (HOCON-textual, per spec §6) or a {"value": "..."} JSON
// body addressed by path, and applies it to overlay.
func (s *Server) applyPatch(w http.ResponseWriter, r *http.Request, overlay *config.Overlay, path string) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req patchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "malformed patch body", err.Error())
			return
		}
		if path == "" {
			writeProblem(w, http.StatusBadRequest, "path required for JSON patch body", "")
			return
		}
		overlay.Set(path, req.Value)
		w.WriteHeader(http.StatusOK)
		return
	}

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed patch body", err.Error())
		return
	}
	fragment, err := config.ParseOverlay(string(buf))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed dotted-path fragment", err.Error())
		return
	}
	for k, v := range fragment.Subtree("") {
		key := k
		if path != "" {
			key = path + "." + k
		}
		overlay.Set(key, v)
	}
	w.WriteHeader(http.StatusOK)
}

type nodeStateResponse struct {
	NodeID string `json:"node_id"`
	State  string `json:"state"`
	Leader bool   `json:"leader"`
}

func (s *Server) handleNodeState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nodeStateResponse{
		NodeID: s.nodeID,
		State:  s.cmg.State().String(),
		Leader: s.cmg.IsLeader(),
	})
}

type nodeVersionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleNodeVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nodeVersionResponse{Version: s.version})
}

func (s *Server) handleMetricSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.GetHealth())
}

type metricToggleRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleMetricToggle(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req metricToggleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "malformed request body", err.Error())
			return
		}
		if req.Source == "" {
			writeError(w, kverrors.New(kverrors.InvalidInitArgument, "source is required"))
			return
		}
		metrics.UpdateComponent(req.Source, enable, "")
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := metrics.GetHealth()
	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
