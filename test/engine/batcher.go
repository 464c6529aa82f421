// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package engine

import (
	"sync"
	"time"
)

// BatchBuilder cuts batches of transactions from a pool.
type BatchBuilder struct {
	pool         *Pool
	batchSize    int
	batchTimeout time.Duration
	closeChan    chan struct{}
	closeLock    sync.Mutex
}

func NewBatchBuilder(pool *Pool, batchSize int, batchTimeout time.Duration) *BatchBuilder {
	return &BatchBuilder{
		pool:         pool,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		closeChan:    make(chan struct{}),
	}
}

// NextBatch returns the next batch once batchSize transactions are pooled or
// batchTimeout elapses, whichever happens first. The batch may be empty. It
// returns nil once the builder is closed.
func (b *BatchBuilder) NextBatch() []string {
	timeout := time.After(b.batchTimeout)
	for {
		select {
		case <-b.closeChan:
			return nil
		case <-timeout:
			return b.pool.NextTransactions(b.batchSize)
		default:
			if b.pool.Size() >= b.batchSize {
				return b.pool.NextTransactions(b.batchSize)
			}
			time.Sleep(b.batchTimeout / 100)
		}
	}
}

// Close stops NextBatch.
func (b *BatchBuilder) Close() {
	b.closeLock.Lock()
	defer b.closeLock.Unlock()
	select {
	case <-b.closeChan:
	default:
		close(b.closeChan)
	}
}
