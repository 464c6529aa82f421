// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"github.com/spf13/cobra"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	ConfigFile string
	StoreKind  string
	StorePath  string
	LogLevel   string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "commitbridge",
		Short:         "Consensus-ordered appends to a hash-chained log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.StoreKind, "store-kind", "", "chain store backend (wal|bolt)")
	cmd.PersistentFlags().StringVar(&opts.StorePath, "store", "", "chain store directory (wal) or file (bolt)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTipCommand(opts))

	return cmd
}

// load reads the configuration file and applies the shared flags over it.
func (opts *RootOptions) load(cmd *cobra.Command) (*FileConfig, error) {
	config, err := LoadConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("store-kind") {
		config.Store.Kind = opts.StoreKind
	}
	if flags.Changed("store") {
		config.Store.Path = opts.StorePath
	}
	if flags.Changed("log-level") {
		config.Log.Level = opts.LogLevel
	}
	return config, nil
}
