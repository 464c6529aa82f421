// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"encoding/json"
	"io"

	"github.com/SmartBFT-Go/commitbridge/internal/chain"
	"github.com/SmartBFT-Go/commitbridge/internal/logging"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type TipOptions struct {
	*RootOptions
	Author string
}

func NewTipCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TipOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tip",
		Short: "Print chain tips",
		Long: `Print the chain tip of an author, or of every author in the store, one
JSON object per line. The store must not be in use by a running bridge.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTip(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Author, "author", "", "author to print (default every author)")

	return cmd
}

func runTip(opts *TipOptions, cmd *cobra.Command) error {
	config, err := opts.load(cmd)
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.New(config.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	store, err := chain.Open(logger, config.Store.Kind, config.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	authors := store.Authors()
	if opts.Author != "" {
		authors = []string{opts.Author}
	}
	return printTips(cmd.OutOrStdout(), store, authors)
}

func printTips(out io.Writer, store api.LogStore, authors []string) error {
	enc := json.NewEncoder(out)
	for _, author := range authors {
		tip, err := store.GetLatest(author)
		if err != nil {
			return errors.Wrapf(err, "failed reading tip of %s", author)
		}
		if tip == nil {
			tip = &types.ChainPosition{Author: author}
		}
		if err := enc.Encode(tip); err != nil {
			return err
		}
	}
	return nil
}
