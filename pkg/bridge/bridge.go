// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package bridge

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/SmartBFT-Go/commitbridge/internal/commit"
	"github.com/SmartBFT-Go/commitbridge/internal/recorder"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/metrics/disabled"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
)

// Bridge submits local writes to a consensus engine and appends them to the
// log store only once the engine has ordered them. Commit blocks received from
// the engine are applied in order, whether they carry local or remote writes.
type Bridge struct {
	Config  Configuration
	Logger  api.Logger
	Store   api.LogStore
	Metrics api.Provider
	// Recording, if set, receives every commit block as one line before it is applied.
	Recording io.Writer

	lock       sync.Mutex
	running    bool
	metrics    *commit.Metrics
	pending    *commit.PendingTable
	submitter  *commit.Submitter
	listener   *commit.Listener
	reconciler *commit.Reconciler
	sweeper    *commit.Sweeper
	ticker     *time.Ticker
}

// Start listens for commits and connects to the consensus engine in the
// background. It returns once the commit listener is serving.
func (b *Bridge) Start() error {
	if err := b.Config.Validate(); err != nil {
		return errors.Wrap(err, "bad configuration")
	}
	if b.Store == nil {
		return errors.New("no log store")
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.running {
		return errors.New("already started")
	}

	if b.Metrics == nil {
		b.Metrics = &disabled.Provider{}
	}
	b.metrics = commit.NewMetrics(api.NewCustomerProvider(b.Metrics, "self", b.Config.SelfID))

	b.pending = &commit.PendingTable{
		Log:        b.Logger,
		Metrics:    b.metrics,
		Limit:      int64(b.Config.PendingLimit),
		RecentSize: b.Config.ResolvedCacheSize,
		RecentTTL:  b.Config.ResolvedCacheTTL,
	}
	b.pending.Start()

	b.reconciler = &commit.Reconciler{
		Logger:               b.Logger,
		Metrics:              b.metrics,
		Store:                b.Store,
		Pending:              b.pending,
		Self:                 b.Config.SelfID,
		AllowedRemoteAuthors: allowlist(b.Config.AllowedRemoteAuthors),
	}
	var handler api.CommitHandler = b.reconciler
	if b.Recording != nil {
		handler = &recorder.Proxy{Logger: b.Logger, Handler: b.reconciler, Out: b.Recording}
	}

	l, err := commit.Listen(b.Logger, b.Config.ListenHost, b.Config.ListenPort, b.Config.PortRetryDelay)
	if err != nil {
		b.pending.Close()
		return err
	}
	b.listener = &commit.Listener{
		Logger:       b.Logger,
		Metrics:      b.metrics,
		Handler:      handler,
		MaxLineBytes: b.Config.MaxLineBytes,
	}
	b.listener.Start(l)

	b.submitter = &commit.Submitter{
		Logger:               b.Logger,
		Metrics:              b.metrics,
		Pending:              b.pending,
		Self:                 b.Config.SelfID,
		Addr:                 net.JoinHostPort(b.Config.EngineHost, strconv.Itoa(b.Config.EnginePort)),
		DialTimeout:          b.Config.DialTimeout,
		ReconnectMaxInterval: b.Config.ReconnectMaxInterval,
	}
	b.submitter.Start()

	b.ticker = time.NewTicker(b.Config.SweepInterval)
	b.sweeper = commit.NewSweeper(b.Logger, b.pending, b.Config.PendingTTL, b.ticker.C)
	b.sweeper.Start()

	b.running = true
	b.Logger.Infof("Bridge of %s started, submitting to %s, receiving commits on %s",
		b.Config.SelfID, b.submitter.Addr, b.listener.Addr())
	return nil
}

func allowlist(authors []string) map[string]struct{} {
	if len(authors) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(authors))
	for _, author := range authors {
		allowed[author] = struct{}{}
	}
	return allowed
}

// ListenAddr returns the address commits are received on, which may differ
// from the configured port if it was taken.
func (b *Bridge) ListenAddr() net.Addr {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Connected is closed once the bridge first reaches the consensus engine.
func (b *Bridge) Connected() <-chan struct{} {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.submitter == nil {
		return nil
	}
	return b.submitter.Connected()
}

// Publish submits content for ordering and returns the request id. completion
// is invoked once, with the appended entry after the write commits, or with an
// error if it fails or times out. Content without a type is rejected before
// submission with a ValidationError.
func (b *Bridge) Publish(content types.Content, completion types.Completion) (string, error) {
	if content.Type() == "" {
		return "", &types.ValidationError{Reason: "content has no " + types.TypeField}
	}
	if completion == nil {
		completion = func(*types.Entry, error) {}
	}

	b.lock.Lock()
	submitter := b.submitter
	running := b.running
	b.lock.Unlock()
	if !running {
		return "", types.ErrStopped
	}
	return submitter.Submit(content, completion)
}

// PublishSync publishes content and waits for its outcome. Returning because
// ctx is done does not withdraw the submission.
func (b *Bridge) PublishSync(ctx context.Context, content types.Content) (*types.Entry, error) {
	type result struct {
		entry *types.Entry
		err   error
	}
	done := make(chan result, 1)
	id, err := b.Publish(content, func(entry *types.Entry, err error) {
		done <- result{entry: entry, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		return r.entry, r.err
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "request %s still pending", id)
	}
}

// Stop stops receiving commits and submitting writes. Writes still pending fail
// with types.ErrStopped. The store is left open.
func (b *Bridge) Stop() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.running {
		return
	}
	b.running = false

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		b.listener.Stop()
	}()
	go func() {
		defer wg.Done()
		b.submitter.Stop()
	}()
	go func() {
		defer wg.Done()
		b.sweeper.Stop()
		b.ticker.Stop()
	}()
	wg.Wait()

	b.pending.Close()
	b.Logger.Infof("Bridge of %s stopped", b.Config.SelfID)
}
