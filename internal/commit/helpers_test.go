// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import (
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SmartBFT-Go/commitbridge/internal/chain"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/metrics/disabled"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const self = "@local.ed25519"

func testLogger(t *testing.T) api.Logger {
	basicLog, err := zap.NewDevelopment()
	require.NoError(t, err)
	return basicLog.Sugar()
}

func testMetrics() *Metrics {
	return NewMetrics(api.NewCustomerProvider(&disabled.Provider{}))
}

// fakeClock is a settable clock.
type fakeClock struct {
	lock sync.Mutex
	now  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newPendingTable(t *testing.T, limit int64, clock *fakeClock) *PendingTable {
	pt := &PendingTable{
		Log:     testLogger(t),
		Metrics: testMetrics(),
		Limit:   limit,
	}
	if clock != nil {
		pt.Now = clock.Now
	}
	pt.Start()
	return pt
}

func newStore(t *testing.T) chain.Store {
	s, err := chain.OpenWALStore(testLogger(t), filepath.Join(t.TempDir(), "log"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// outcome captures what a completion was called with.
type outcome struct {
	entry *types.Entry
	err   error
}

type completions struct {
	lock  sync.Mutex
	calls map[string][]outcome
}

func newCompletions() *completions {
	return &completions{calls: make(map[string][]outcome)}
}

// For returns a completion recording its calls under name.
func (c *completions) For(name string) types.Completion {
	return func(entry *types.Entry, err error) {
		c.lock.Lock()
		defer c.lock.Unlock()
		c.calls[name] = append(c.calls[name], outcome{entry: entry, err: err})
	}
}

func (c *completions) Calls(name string) []outcome {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]outcome(nil), c.calls[name]...)
}

// encodeTx returns a block transaction carrying v as JSON.
func encodeTx(t *testing.T, v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	raw, err := json.Marshal(base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	return raw
}
