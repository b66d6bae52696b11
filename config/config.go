// Package config loads a node's bootstrap configuration from the
// environment into a struct tagged for envconfig.
package config

import (
	`strings`

	`github.com/kelseyhightower/envconfig`
)

// Config is a node's bootstrap configuration. The cmd/cosmochain CLI uses
// it as loaded; none of its flags override these values.
type Config struct {
	NodeID         string `envconfig:"NODE_ID" default:"node-1"`
	ListenPort     int    `envconfig:"LISTEN_PORT" default:"1317"`
	P2PPort        int    `envconfig:"P2P_PORT" default:"6001"`
	Peers          string `envconfig:"PEERS" default:""`
	SnapshotPath   string `envconfig:"SNAPSHOT_PATH" default:"./snapshot.json"`
	Difficulty     int    `envconfig:"DIFFICULTY" default:"2"`
	MiningReward   uint64 `envconfig:"MINING_REWARD" default:"50"`
}

// Load reads a Config from the process environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PeerList splits the comma-separated Peers field into addresses, trimming
// whitespace and skipping empty entries.
func (c *Config) PeerList() []string {
	if strings.TrimSpace(c.Peers) == "" {
		return nil
	}
	parts := strings.Split(c.Peers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
