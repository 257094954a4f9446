package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors serveCmd's flags for operators who prefer a config
// file to a long flag list; any field left zero keeps the flag/default
// value serveCmd already resolved.
type fileConfig struct {
	PostgresDSN      string            `yaml:"postgres_dsn"`
	RedisAddr        string            `yaml:"redis_addr"`
	ContainerdSocket string            `yaml:"containerd_socket"`
	ProxyURL         string            `yaml:"proxy_url"`
	HTTPAddr         string            `yaml:"http_addr"`
	BuildWorkDir     string            `yaml:"build_workdir"`
	ImageRegistry    string            `yaml:"image_registry"`
	NodeID           string            `yaml:"node_id"`
	RaftBindAddr     string            `yaml:"raft_bind_addr"`
	RaftDataDir      string            `yaml:"raft_data_dir"`
	GitHubAppIDs     map[string]string `yaml:"github_app_ids"`
}

// loadFileConfig reads and parses path (if non-empty) and returns its
// settings; it does not touch cmd's flags. serveCmd applies a file value
// only where the matching flag was not set explicitly, so `--config
// zaneopsd.yaml` and individual flags can be mixed and explicit flags win.
func loadFileConfig(path string) (*fileConfig, error) {
	if path == "" {
		return &fileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}
