// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"fmt"
	"os"

	"github.com/SmartBFT-Go/commitbridge/internal/chain"
	"github.com/SmartBFT-Go/commitbridge/internal/commit"
	"github.com/SmartBFT-Go/commitbridge/internal/logging"
	"github.com/SmartBFT-Go/commitbridge/internal/recorder"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/metrics/disabled"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type ReplayOptions struct {
	*RootOptions
	File   string
	SelfID string
}

func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply a recording of commit blocks to a store",
		Long: `Apply every commit block of a recording made with "run --record" to the
configured store, in recording order. Transactions of every author are appended,
including the local ones, so an empty store is rebuilt to what the recording
node held.

Examples:
  commitbridge replay --file commits.log --store ./rebuilt
  commitbridge replay --file commits.log --store ./rebuilt.db --store-kind bolt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "recording to replay (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&opts.SelfID, "self", "", "identity of transactions that carry no author")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	config, err := opts.load(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("self") {
		config.Bridge.SelfID = opts.SelfID
	}

	logger, logCloser, err := logging.New(config.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	defer logger.Sync()

	in, err := os.Open(opts.File)
	if err != nil {
		return errors.Wrap(err, "failed opening recording")
	}
	defer in.Close()

	store, err := chain.Open(logger, config.Store.Kind, config.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := commit.NewMetrics(api.NewCustomerProvider(&disabled.Provider{}))
	pending := &commit.PendingTable{Log: logger, Metrics: metrics, Limit: 1}
	pending.Start()
	defer pending.Close()

	reconciler := &commit.Reconciler{
		Logger:  logger,
		Metrics: metrics,
		Store:   store,
		Pending: pending,
		Self:    config.Bridge.SelfID,
		Rebuild: true,
	}
	n, err := recorder.Replay(logger, in, reconciler)
	if err != nil {
		return errors.Wrapf(err, "replay stopped after %d blocks", n)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d blocks\n", n)
	return printTips(cmd.OutOrStdout(), store, store.Authors())
}
