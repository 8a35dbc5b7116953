// Package config loads process configuration for the dualkv CLIs
// (cmd/demo, cmd/benchmark) from YAML files. It never touches the
// persisted data format itself — that's the fixed binary layout each
// engine package owns.
package config

import (
	"os"

	"github.com/arkatz-dev/dualkv/btree"
	"github.com/arkatz-dev/dualkv/lsm"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadLSMConfig reads an lsm.Config from a YAML file at path, starting from
// lsm.DefaultConfig(dataDir) so an omitted field keeps its default instead
// of zeroing out.
func LoadLSMConfig(path, dataDir string) (lsm.Config, error) {
	cfg := lsm.DefaultConfig(dataDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return lsm.Config{}, errors.Wrap(err, "config: read lsm config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return lsm.Config{}, errors.Wrap(err, "config: parse lsm config")
	}
	return cfg, nil
}

// LoadBTreeConfig reads a btree.Config from a YAML file at path, starting
// from btree.DefaultConfig(dataDir).
func LoadBTreeConfig(path, dataDir string) (btree.Config, error) {
	cfg := btree.DefaultConfig(dataDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return btree.Config{}, errors.Wrap(err, "config: read btree config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return btree.Config{}, errors.Wrap(err, "config: parse btree config")
	}
	return cfg, nil
}
