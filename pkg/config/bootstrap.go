package config

import (
	"os"

	"github.com/cuemby/tablemesh/pkg/kverrors"
	"gopkg.in/yaml.v3"
)

// BootstrapConfig is the node's startup configuration: identity,
// listen addresses, data directory, and the peer set used to join or
// form a cluster. Loaded once at process start; later overrides go
// through the dotted-path overlay instead of rewriting this file.
type BootstrapConfig struct {
	NodeID string `yaml:"nodeId"`
	Data   struct {
		Dir string `yaml:"dir"`
	} `yaml:"data"`
	Listen struct {
		CMG   string `yaml:"cmg"`
		Raft  string `yaml:"raft"`
		Wire  string `yaml:"wire"`
		Admin string `yaml:"admin"`
	} `yaml:"listen"`
	Peers []PeerSpec `yaml:"peers"`
}

// PeerSpec names one other node's bootstrap addresses, as listed in a
// bootstrap file's peers: block.
type PeerSpec struct {
	NodeID string `yaml:"nodeId"`
	CMG    string `yaml:"cmg"`
	Raft   string `yaml:"raft"`
	Wire   string `yaml:"wire"`
}

// Load reads and parses a node's bootstrap YAML file.
func Load(path string) (*BootstrapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Storage, "read bootstrap config", err)
	}
	var cfg BootstrapConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, kverrors.Wrap(kverrors.Assembly, "parse bootstrap config", err)
	}
	if cfg.NodeID == "" {
		return nil, kverrors.New(kverrors.Assembly, "bootstrap config missing nodeId")
	}
	if cfg.Data.Dir == "" {
		return nil, kverrors.New(kverrors.Assembly, "bootstrap config missing data.dir")
	}
	return &cfg, nil
}
