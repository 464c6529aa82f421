// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package test

import (
	"bytes"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/SmartBFT-Go/commitbridge/internal/chain"
	"github.com/SmartBFT-Go/commitbridge/pkg/bridge"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/SmartBFT-Go/commitbridge/test/engine"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var fastConfig = bridge.Configuration{
	EngineHost:           "127.0.0.1",
	ListenHost:           "127.0.0.1",
	PortRetryDelay:       10 * time.Millisecond,
	PendingTTL:           5 * time.Second,
	SweepInterval:        100 * time.Millisecond,
	PendingLimit:         100,
	DialTimeout:          time.Second,
	ReconnectMaxInterval: 100 * time.Millisecond,
	MaxLineBytes:         1024 * 1024,
	ResolvedCacheSize:    128,
}

// App is one bridge with its own store, connected to a shared engine.
type App struct {
	ID        string
	Bridge    *bridge.Bridge
	Store     chain.Store
	Recording *syncBuffer
	Setup     func()

	t        *testing.T
	engine   *engine.Engine
	logLevel zap.AtomicLevel
	logger   *zap.SugaredLogger
}

type result struct {
	entry *types.Entry
	err   error
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	lock sync.Mutex
	buff bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buff.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]byte(nil), b.buff.Bytes()...)
}

func newEngine(t *testing.T, batchSize int, batchTimeout time.Duration, legacyShape bool) *engine.Engine {
	intake, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level.SetLevel(zapcore.InfoLevel)
	basicLog, err := logConfig.Build()
	require.NoError(t, err)

	e := &engine.Engine{Logger: basicLog.Sugar().Named("engine"), BatchSize: batchSize, BatchTimeout: batchTimeout, LegacyShape: legacyShape}
	e.Start(intake)
	t.Cleanup(e.Stop)
	return e
}

func newNode(t *testing.T, id string, e *engine.Engine, testDir, storeKind string) *App {
	logConfig := zap.NewDevelopmentConfig()
	basicLog, err := logConfig.Build()
	require.NoError(t, err)

	app := &App{
		ID:        id,
		Recording: &syncBuffer{},
		t:         t,
		engine:    e,
		logLevel:  logConfig.Level,
		logger:    basicLog.Sugar().Named(id),
	}

	storePath := filepath.Join(testDir, id)
	if storeKind == chain.KindBolt {
		storePath = filepath.Join(storePath, "chain.db")
	}

	_, port, err := net.SplitHostPort(e.Addr().String())
	require.NoError(t, err)
	config := fastConfig
	config.SelfID = id
	config.EnginePort, err = strconv.Atoi(port)
	require.NoError(t, err)

	app.Setup = func() {
		store, err := chain.Open(app.logger, storeKind, storePath)
		require.NoError(t, err)
		app.Store = store
		app.Bridge = &bridge.Bridge{
			Config:    config,
			Logger:    app.logger,
			Store:     store,
			Recording: app.Recording,
		}
	}
	app.Setup()
	return app
}

// Start starts the bridge, subscribes it to the engine and waits until it can submit.
func (a *App) Start() {
	require.NoError(a.t, a.Bridge.Start())
	require.NoError(a.t, a.engine.Subscribe(a.Bridge.ListenAddr().String()))
	select {
	case <-a.Bridge.Connected():
	case <-time.After(10 * time.Second):
		a.t.Fatalf("%s did not connect to the engine", a.ID)
	}
}

// Stop stops the bridge and closes its store.
func (a *App) Stop() {
	a.Bridge.Stop()
	require.NoError(a.t, a.Store.Close())
}

// Restart reopens the store and starts a new bridge over it.
func (a *App) Restart() {
	a.Stop()
	a.Setup()
	a.Start()
}

// Mute mutes the log
func (a *App) Mute() {
	a.logLevel.SetLevel(zapcore.PanicLevel)
}

// Publish publishes a post and returns the channel its outcome is sent on.
func (a *App) Publish(text string) (string, <-chan result) {
	done := make(chan result, 1)
	id, err := a.Bridge.Publish(types.Content{"type": "post", "text": text}, func(entry *types.Entry, err error) {
		done <- result{entry: entry, err: err}
	})
	require.NoError(a.t, err)
	return id, done
}

// Wait waits for the outcome of a publish.
func (a *App) Wait(done <-chan result) (*types.Entry, error) {
	select {
	case r := <-done:
		return r.entry, r.err
	case <-time.After(20 * time.Second):
		a.t.Fatalf("%s: publish never completed", a.ID)
		return nil, nil
	}
}

// History returns the author's chain in this node's store.
func (a *App) History(author string) []*types.Entry {
	entries, err := a.Store.History(author)
	require.NoError(a.t, err)
	return entries
}

func startNodes(nodes ...*App) {
	for _, n := range nodes {
		n.Start()
	}
}

func stopNodes(nodes ...*App) {
	for _, n := range nodes {
		n.Stop()
	}
}
