// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"os"

	"github.com/SmartBFT-Go/commitbridge/internal/chain"
	"github.com/SmartBFT-Go/commitbridge/internal/logging"
	"github.com/SmartBFT-Go/commitbridge/pkg/bridge"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileConfig is the layout of the YAML configuration file.
type FileConfig struct {
	Bridge  bridge.Configuration `yaml:"bridge"`
	Store   StoreConfig          `yaml:"store"`
	Log     logging.Config       `yaml:"log"`
	Metrics MetricsConfig        `yaml:"metrics"`
}

type StoreConfig struct {
	// Kind is wal or bolt.
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	// Listen is the address /metrics is served on. Empty disables it.
	Listen string `yaml:"listen"`
}

// DefaultFileConfig is used for everything the file does not set.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Bridge: bridge.DefaultConfig,
		Store:  StoreConfig{Kind: chain.KindWAL, Path: "commitbridge-data"},
		Log:    logging.DefaultConfig,
	}
}

// LoadConfig reads path over the defaults. An empty path yields the defaults.
func LoadConfig(path string) (*FileConfig, error) {
	config := DefaultFileConfig()
	if path == "" {
		return config, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed reading configuration")
	}
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, errors.Wrapf(err, "failed parsing %s", path)
	}
	return config, nil
}
