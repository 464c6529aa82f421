// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPendingResolveOnce(t *testing.T) {
	pt := newPendingTable(t, 10, nil)
	c := newCompletions()

	id, err := pt.Register(types.Content{"type": "post"}, c.For("a"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, pt.Size())

	entry := &types.Entry{Key: "%k", Author: self, Sequence: 1}
	assert.True(t, pt.Resolve(id, entry, nil))
	assert.False(t, pt.Resolve(id, nil, fmt.Errorf("late")))
	assert.False(t, pt.Resolve("unknown", nil, nil))

	calls := c.Calls("a")
	require.Len(t, calls, 1)
	assert.Equal(t, entry, calls[0].entry)
	assert.NoError(t, calls[0].err)
	assert.Equal(t, 0, pt.Size())
	assert.True(t, pt.WasResolved(id))
	assert.False(t, pt.WasResolved("unknown"))
}

func TestPendingUniqueIDs(t *testing.T) {
	pt := newPendingTable(t, 1000, nil)
	ids := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		id, err := pt.Register(types.Content{"type": "post"}, nil)
		require.NoError(t, err)
		ids[id] = struct{}{}
	}
	assert.Len(t, ids, 500)

	// a colliding generator is retried
	n := 0
	pt.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n/2)
	}
	first, err := pt.Register(types.Content{"type": "post"}, nil)
	require.NoError(t, err)
	second, err := pt.Register(types.Content{"type": "post"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestPendingSweep(t *testing.T) {
	clock := newFakeClock()
	pt := newPendingTable(t, 10, clock)
	c := newCompletions()
	const ttl = 120 * time.Second

	start := clock.Now()
	old, err := pt.Register(types.Content{"type": "post"}, c.For("old"))
	require.NoError(t, err)
	clock.Advance(60 * time.Second)
	young, err := pt.Register(types.Content{"type": "post"}, c.For("young"))
	require.NoError(t, err)

	assert.Equal(t, 0, pt.Sweep(start.Add(ttl-time.Millisecond), ttl))
	assert.Empty(t, c.Calls("old"))

	assert.Equal(t, 1, pt.Sweep(start.Add(ttl), ttl))
	calls := c.Calls("old")
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].entry)
	assert.True(t, types.IsTimeout(calls[0].err))

	// a commit arriving after the timeout does not complete again
	assert.False(t, pt.Resolve(old, &types.Entry{}, nil))
	assert.Len(t, c.Calls("old"), 1)
	assert.True(t, pt.WasResolved(old))

	assert.Empty(t, c.Calls("young"))
	assert.Equal(t, 1, pt.Size())
	assert.True(t, pt.Resolve(young, &types.Entry{}, nil))
}

func TestPendingLimit(t *testing.T) {
	pt := newPendingTable(t, 2, nil)

	a, err := pt.Register(types.Content{"type": "post"}, nil)
	require.NoError(t, err)
	_, err = pt.Register(types.Content{"type": "post"}, nil)
	require.NoError(t, err)
	_, err = pt.Register(types.Content{"type": "post"}, nil)
	assert.Equal(t, types.ErrPendingFull, err)

	require.NotNil(t, pt.Take(a))
	_, err = pt.Register(types.Content{"type": "post"}, nil)
	assert.NoError(t, err)
}

func TestPendingClose(t *testing.T) {
	pt := newPendingTable(t, 10, nil)
	c := newCompletions()

	_, err := pt.Register(types.Content{"type": "post"}, c.For("a"))
	require.NoError(t, err)
	pt.Close()

	calls := c.Calls("a")
	require.Len(t, calls, 1)
	assert.Equal(t, types.ErrStopped, calls[0].err)

	_, err = pt.Register(types.Content{"type": "post"}, nil)
	assert.Equal(t, types.ErrStopped, err)
}

// Commits and timeouts racing for the same requests complete each exactly once.
func TestPendingResolveRacesSweep(t *testing.T) {
	clock := newFakeClock()
	pt := newPendingTable(t, 1000, clock)
	c := newCompletions()

	ids := make([]string, 200)
	for i := range ids {
		id, err := pt.Register(types.Content{"type": "post"}, c.For(fmt.Sprint(i)))
		require.NoError(t, err)
		ids[i] = id
	}
	now := clock.Advance(time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			pt.Resolve(id, &types.Entry{}, nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			pt.Sweep(now, time.Minute)
		}
	}()
	wg.Wait()

	for i := range ids {
		assert.Len(t, c.Calls(fmt.Sprint(i)), 1)
	}
}

func TestSweeper(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clock := newFakeClock()
	pt := &PendingTable{Log: testLogger(t), Metrics: testMetrics(), Limit: 10, Now: clock.Now}
	pt.Start()
	c := newCompletions()

	_, err := pt.Register(types.Content{"type": "post"}, c.For("a"))
	require.NoError(t, err)

	timeChan := make(chan time.Time)
	s := NewSweeper(testLogger(t), pt, 30*time.Second, timeChan)
	s.Start()

	timeChan <- clock.Now().Add(10 * time.Second)
	timeChan <- clock.Now().Add(20 * time.Second)
	assert.Empty(t, c.Calls("a"))

	timeChan <- clock.Now().Add(30 * time.Second)
	assert.Eventually(t, func() bool { return len(c.Calls("a")) == 1 }, time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
}
