// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/SmartBFT-Go/commitbridge/internal/chain"
	"github.com/SmartBFT-Go/commitbridge/internal/logging"
	"github.com/SmartBFT-Go/commitbridge/internal/rpc"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/bridge"
	"github.com/SmartBFT-Go/commitbridge/pkg/metrics/disabled"
	"github.com/SmartBFT-Go/commitbridge/pkg/metrics/prometheus"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const maxContentBytes = 1024 * 1024

type RunOptions struct {
	*RootOptions
	SelfID        string
	EngineHost    string
	EnginePort    int
	ListenPort    int
	MetricsListen string
	RecordFile    string
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge",
		Long: `Run the bridge until interrupted.

Every line read from stdin is a JSON content object to publish, for example
{"type":"post","text":"hi"}. The outcome of each publish is written to stdout
as one JSON line once its commit is applied or it fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SelfID, "self", "", "identity local writes are authored by")
	cmd.Flags().StringVar(&opts.EngineHost, "engine-host", "", "consensus engine host")
	cmd.Flags().IntVar(&opts.EnginePort, "engine-port", 0, "consensus engine transaction intake port")
	cmd.Flags().IntVar(&opts.ListenPort, "listen-port", 0, "port commit blocks are received on")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "address to serve /metrics on")
	cmd.Flags().StringVar(&opts.RecordFile, "record", "", "append every received commit block to this file")

	return cmd
}

func (opts *RunOptions) apply(cmd *cobra.Command, config *FileConfig) {
	flags := cmd.Flags()
	if flags.Changed("self") {
		config.Bridge.SelfID = opts.SelfID
	}
	if flags.Changed("engine-host") {
		config.Bridge.EngineHost = opts.EngineHost
	}
	if flags.Changed("engine-port") {
		config.Bridge.EnginePort = opts.EnginePort
	}
	if flags.Changed("listen-port") {
		config.Bridge.ListenPort = opts.ListenPort
	}
	if flags.Changed("metrics-listen") {
		config.Metrics.Listen = opts.MetricsListen
	}
}

func runBridge(opts *RunOptions, cmd *cobra.Command) error {
	config, err := opts.load(cmd)
	if err != nil {
		return err
	}
	opts.apply(cmd, config)
	if err := config.Bridge.Validate(); err != nil {
		return errors.Wrap(err, "bad bridge configuration")
	}

	logger, logCloser, err := logging.New(config.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	defer logger.Sync()

	store, err := chain.Open(logger, config.Store.Kind, config.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	var provider api.Provider = &disabled.Provider{}
	var promProvider *prometheus.Provider
	if config.Metrics.Listen != "" {
		promProvider = prometheus.NewProvider()
		provider = promProvider
	}

	b := &bridge.Bridge{Config: config.Bridge, Logger: logger, Store: store, Metrics: provider}
	if opts.RecordFile != "" {
		f, err := os.OpenFile(opts.RecordFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return errors.Wrap(err, "failed opening recording")
		}
		defer f.Close()
		b.Recording = f
	}

	if err := b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if promProvider != nil {
		server := newAdminServer(config.Metrics.Listen, promProvider.Handler(), store)
		g.Go(func() error {
			logger.Infof("Serving metrics on %s", config.Metrics.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrap(err, "admin server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	// stdin is not interruptible, so the reader is left behind at exit
	go publishLines(logger, b, cmd.InOrStdin(), cmd.OutOrStdout())

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	err = g.Wait()
	logger.Infof("Shutting down")
	return err
}

// publishOutcome is written to the output for every publish.
type publishOutcome struct {
	RequestID string `json:"requestId,omitempty"`
	Author    string `json:"author,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
	Key       string `json:"key,omitempty"`
	Error     string `json:"error,omitempty"`
}

type publisher interface {
	Publish(content types.Content, completion types.Completion) (string, error)
}

// publishLines publishes every JSON object read from in and reports each
// outcome on out.
func publishLines(logger api.Logger, p publisher, in io.Reader, out io.Writer) {
	var lock sync.Mutex
	report := func(o publishOutcome) {
		line, err := json.Marshal(o)
		if err != nil {
			logger.Errorf("Failed marshaling outcome of %s: %v", o.RequestID, err)
			return
		}
		lock.Lock()
		defer lock.Unlock()
		if _, err := out.Write(append(line, '\n')); err != nil {
			logger.Warnf("Failed reporting outcome of %s: %v", o.RequestID, err)
		}
	}

	lines := rpc.NewLineReader(in, maxContentBytes)
	for {
		line, err := lines.ReadLine()
		if err == io.EOF {
			return
		}
		if err != nil {
			report(publishOutcome{Error: err.Error()})
			if err == rpc.ErrLineTooLong {
				continue
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		content := types.Content{}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&content); err != nil {
			report(publishOutcome{Error: errors.Wrap(err, "content is not a JSON object").Error()})
			continue
		}

		// the completion may run before Publish returns the id
		ids := make(chan string, 1)
		id, err := p.Publish(content, func(entry *types.Entry, err error) {
			o := publishOutcome{RequestID: <-ids}
			if err != nil {
				o.Error = err.Error()
			} else {
				o.Author, o.Sequence, o.Key = entry.Author, entry.Sequence, entry.Key
			}
			report(o)
		})
		if err != nil {
			report(publishOutcome{Error: err.Error()})
			continue
		}
		ids <- id
	}
}
