// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package engine

import "sync"

// Pool holds submitted transactions in arrival order until they are batched.
type Pool struct {
	lock  sync.Mutex
	queue []string
}

func (p *Pool) Submit(tx string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.queue = append(p.queue, tx)
}

func (p *Pool) Size() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.queue)
}

// NextTransactions removes and returns up to maxCount transactions, oldest first.
func (p *Pool) NextTransactions(maxCount int) []string {
	p.lock.Lock()
	defer p.lock.Unlock()

	if maxCount > len(p.queue) {
		maxCount = len(p.queue)
	}
	next := make([]string, maxCount)
	copy(next, p.queue[:maxCount])
	p.queue = p.queue[maxCount:]
	return next
}
