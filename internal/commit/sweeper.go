// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import (
	"sync"
	"time"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
)

// Sweeper times out pending requests on every tick of timeChan, independently
// of request volume.
type Sweeper struct {
	logger   api.Logger
	pending  *PendingTable
	maxAge   time.Duration
	timeChan <-chan time.Time
	stopChan chan struct{}
	running  sync.WaitGroup
}

func NewSweeper(logger api.Logger, pending *PendingTable, maxAge time.Duration, timeChan <-chan time.Time) *Sweeper {
	return &Sweeper{
		logger:   logger,
		pending:  pending,
		maxAge:   maxAge,
		timeChan: timeChan,
		stopChan: make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.running.Add(1)
	go s.run()
}

func (s *Sweeper) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
	}
	defer s.running.Wait()
	close(s.stopChan)
}

func (s *Sweeper) run() {
	defer s.running.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-s.timeChan:
			if n := s.pending.Sweep(now, s.maxAge); n > 0 {
				s.logger.Infof("Swept %d timed out requests, %d still pending", n, s.pending.Size())
			}
		}
	}
}
