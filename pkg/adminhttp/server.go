package adminhttp

import (
	"net/http"
	"time"

	"github.com/cuemby/tablemesh/pkg/cmg"
	"github.com/cuemby/tablemesh/pkg/config"
	"github.com/cuemby/tablemesh/pkg/metrics"
	"github.com/cuemby/tablemesh/pkg/raftengine"
	"github.com/cuemby/tablemesh/pkg/types"
)

// PeerResolver turns a bare node id named in a cluster/init request
// into the addresses the node needs to dial it, sourced from the
// node's bootstrap peer list (pkg/config).
type PeerResolver interface {
	ResolvePeer(nodeID string) (raftengine.PeerConfig, bool)
	ResolveNode(nodeID string) (types.NodeDescriptor, bool)
}

// PhysicalLister reports the node ids currently visible in the
// gossip-observed physical topology, for the
// /cluster/topology/physical endpoint.
type PhysicalLister func() []string

// Server is the node's management HTTP surface.
type Server struct {
	mux *http.ServeMux

	cmg        *cmg.CMG
	resolver   PeerResolver
	physical   PhysicalLister
	clusterCfg *config.Overlay
	nodeCfg    *config.Overlay

	nodeID  string
	version string
}

// New builds the management HTTP surface. clusterCfg/nodeCfg back the
// configuration endpoints; either may be nil, in which case those
// endpoints report an empty tree.
func New(c *cmg.CMG, resolver PeerResolver, physical PhysicalLister, clusterCfg, nodeCfg *config.Overlay, nodeID, version string) *Server {
	if clusterCfg == nil {
		clusterCfg = config.NewOverlay()
	}
	if nodeCfg == nil {
		nodeCfg = config.NewOverlay()
	}
	s := &Server{
		cmg:        c,
		resolver:   resolver,
		physical:   physical,
		clusterCfg: clusterCfg,
		nodeCfg:    nodeCfg,
		nodeID:     nodeID,
		version:    version,
	}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /management/v1/cluster/init", s.handleClusterInit)
	mux.HandleFunc("GET /management/v1/cluster/state", s.handleClusterState)
	mux.HandleFunc("GET /management/v1/cluster/topology/{kind}", s.handleClusterTopology)

	mux.HandleFunc("GET /management/v1/configuration/cluster", s.handleConfigGet(s.clusterCfg))
	mux.HandleFunc("GET /management/v1/configuration/cluster/{path...}", s.handleConfigGetPath(s.clusterCfg))
	mux.HandleFunc("PATCH /management/v1/configuration/cluster", s.handleConfigPatch(s.clusterCfg))
	mux.HandleFunc("PATCH /management/v1/configuration/cluster/{path...}", s.handleConfigPatchPath(s.clusterCfg))
	mux.HandleFunc("GET /management/v1/configuration/node", s.handleConfigGet(s.nodeCfg))
	mux.HandleFunc("GET /management/v1/configuration/node/{path...}", s.handleConfigGetPath(s.nodeCfg))
	mux.HandleFunc("PATCH /management/v1/configuration/node", s.handleConfigPatch(s.nodeCfg))
	mux.HandleFunc("PATCH /management/v1/configuration/node/{path...}", s.handleConfigPatchPath(s.nodeCfg))

	mux.HandleFunc("GET /management/v1/node/state", s.handleNodeState)
	mux.HandleFunc("GET /management/v1/node/version", s.handleNodeVersion)

	mux.HandleFunc("GET /management/v1/metric/node", s.handleMetricSources)
	mux.HandleFunc("POST /management/v1/metric/node/enable", s.handleMetricToggle(true))
	mux.HandleFunc("POST /management/v1/metric/node/disable", s.handleMetricToggle(false))

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	return mux
}

// Handler returns the server's http.Handler for embedding or testing.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the management server until it errors or is shut down.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}
