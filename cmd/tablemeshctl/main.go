package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time.
	Version = "dev"

	nodeAddr string
)

// usageError marks a failure in how tablemeshctl was invoked (missing
// or malformed flags), distinct from a request that reached the node
// and failed there.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if _, ok := err.(*usageError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tablemeshctl",
	Short:   "tablemeshctl administers a tablemesh cluster over its management HTTP surface",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&nodeAddr, "node", "127.0.0.1:7400", "address of the node's admin HTTP listener")

	rootCmd.AddCommand(clusterCmd)
	clusterCmd.AddCommand(clusterInitCmd)
	clusterCmd.AddCommand(clusterStateCmd)
	clusterCmd.AddCommand(clusterTopologyCmd)

	rootCmd.AddCommand(nodeCmd)
	nodeCmd.AddCommand(nodeStateCmd)

	clusterInitCmd.Flags().String("cluster-name", "", "name of the cluster to create (required)")
	clusterInitCmd.Flags().StringSlice("cmg-node", nil, "node id forming the cluster management group; repeatable (required)")
	clusterInitCmd.Flags().StringSlice("ms-node", nil, "node id hosting metadata storage; repeatable")
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage cluster membership and topology",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("cluster-name")
		if name == "" {
			return usageErrorf("--cluster-name is required")
		}
		cmgNodes, _ := cmd.Flags().GetStringSlice("cmg-node")
		if len(cmgNodes) == 0 {
			return usageErrorf("at least one --cmg-node is required")
		}
		msNodes, _ := cmd.Flags().GetStringSlice("ms-node")

		c := newAdminClient(nodeAddr)
		if err := c.ClusterInit(clusterInitRequest{ClusterName: name, CMGNodes: cmgNodes, MetaStorageNodes: msNodes}); err != nil {
			return err
		}
		fmt.Printf("cluster %q initialized\n", name)
		return nil
	},
}

var clusterStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the cluster's replicated state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAdminClient(nodeAddr)
		state, err := c.ClusterState()
		if err != nil {
			return err
		}
		fmt.Printf("cluster:     %s\n", state.ClusterTag.ClusterName)
		fmt.Printf("cmg nodes:   %v\n", state.CMGNodes)
		fmt.Printf("ms nodes:    %v\n", state.MSNodes)
		return nil
	},
}

var clusterTopologyCmd = &cobra.Command{
	Use:   "topology [logical|physical]",
	Short: "List the cluster's logical or physical topology",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := args[0]
		if kind != "logical" && kind != "physical" {
			return usageErrorf("topology kind must be logical or physical, got %q", kind)
		}
		c := newAdminClient(nodeAddr)
		nodes, err := c.ClusterTopology(kind)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			fmt.Printf("%-20s cmg=%-22s raft=%-22s wire=%s\n", n.ID, n.CMGAddress, n.RaftAddress, n.WireAddress)
		}
		return nil
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect a single node",
}

var nodeStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show one node's CMG state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAdminClient(nodeAddr)
		state, err := c.NodeState()
		if err != nil {
			return err
		}
		fmt.Printf("node:   %s\n", state.NodeID)
		fmt.Printf("state:  %s\n", state.State)
		fmt.Printf("leader: %v\n", state.Leader)
		return nil
	},
}
