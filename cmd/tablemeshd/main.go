package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/tablemesh/pkg/config"
	"github.com/cuemby/tablemesh/pkg/log"
	"github.com/cuemby/tablemesh/pkg/node"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time.
	Version = "dev"

	configPath string
	logLevel   string
	logJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tablemeshd",
	Short:   "tablemeshd runs one node of a distributed partitioned table store",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "/etc/tablemesh/bootstrap.yaml", "path to the node's bootstrap configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&logJSON, "log-json", false, "output logs in JSON format")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load bootstrap config: %w", err)
	}

	n, err := node.New(cfg, Version)
	if err != nil {
		return fmt.Errorf("assemble node: %w", err)
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	logger := log.WithNodeID(cfg.NodeID)
	logger.Info().Str("admin_addr", cfg.Listen.Admin).Msg("tablemeshd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	n.Stop()
	return nil
}
