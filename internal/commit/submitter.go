// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/SmartBFT-Go/commitbridge/internal/codec"
	"github.com/SmartBFT-Go/commitbridge/internal/rpc"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const writeTimeout = 10 * time.Second

// Submitter keeps a connection to the consensus engine's intake endpoint and
// writes one submit call per local request. It never waits for the commit.
type Submitter struct {
	Logger  api.Logger
	Metrics *Metrics
	Pending *PendingTable
	// Self is the author of local requests.
	Self string
	// Addr is the host:port of the intake endpoint.
	Addr                 string
	DialTimeout          time.Duration
	ReconnectMaxInterval time.Duration

	nextID    uint64 // guarded by lock
	lock      sync.Mutex
	conn      net.Conn
	connected chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	running   sync.WaitGroup
}

// Start connects in the background and reconnects whenever the connection drops.
func (s *Submitter) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.connected = make(chan struct{})
	s.running.Add(1)
	go s.run()
}

func (s *Submitter) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.lock.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.lock.Unlock()
	s.running.Wait()
}

// Connected is closed once the first connection is established.
func (s *Submitter) Connected() <-chan struct{} {
	return s.connected
}

// Submit registers the request and writes it to the consensus engine. A write
// failure is logged, not returned: the request stays pending and times out if
// it never commits.
func (s *Submitter) Submit(payload types.Content, completion types.Completion) (string, error) {
	id, err := s.Pending.Register(payload, completion)
	if err != nil {
		return "", err
	}

	tx, err := codec.Encode(&types.Envelope{RequestID: id, Payload: payload, Author: s.Self})
	if err != nil {
		s.Pending.Take(id)
		return "", err
	}
	size, err := s.write(tx)
	if _, ok := err.(*types.TransportError); err != nil && !ok {
		s.Pending.Take(id)
		return "", err
	}
	if err != nil {
		s.Logger.Errorf("Request %s registered but not submitted: %v", id, err)
		s.Metrics.CountTransportError.Add(1)
		return id, nil
	}

	s.Metrics.CountOfSubmitted.Add(1)
	s.Logger.Debugf("Submitted request %s (%d bytes)", id, size)
	return id, nil
}

// write numbers and sends tx while holding the lock, so call numbers reach
// the wire in increasing order.
func (s *Submitter) write(tx string) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.conn == nil {
		return 0, &types.TransportError{Addr: s.Addr, Err: errors.New("not connected")}
	}
	s.nextID++
	line, err := rpc.NewSubmitTx(s.nextID, tx)
	if err != nil {
		return 0, err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, &types.TransportError{Addr: s.Addr, Err: err}
	}
	if _, err := s.conn.Write(line); err != nil {
		// the drain loop sees the closed connection and reconnects
		s.conn.Close()
		s.conn = nil
		return 0, &types.TransportError{Addr: s.Addr, Err: err}
	}
	return len(line), nil
}

func (s *Submitter) run() {
	defer s.running.Done()

	first := true
	for {
		conn, err := s.dial()
		if err != nil {
			s.Logger.Infof("Stopped connecting to %s: %v", s.Addr, err)
			return
		}

		s.lock.Lock()
		if s.ctx.Err() != nil {
			s.lock.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.lock.Unlock()

		s.Logger.Infof("Connected to consensus engine at %s", s.Addr)
		if first {
			close(s.connected)
			first = false
		}

		// responses are not consumed
		_, err = io.Copy(io.Discard, conn)

		s.lock.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.lock.Unlock()
		conn.Close()

		if s.ctx.Err() != nil {
			return
		}
		s.Logger.Warnf("Connection to consensus engine at %s closed: %v", s.Addr, err)
	}
}

func (s *Submitter) dial() (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = s.ReconnectMaxInterval
	b.MaxElapsedTime = 0

	dialer := &net.Dialer{Timeout: s.DialTimeout}
	var conn net.Conn
	operation := func() error {
		var err error
		conn, err = dialer.DialContext(s.ctx, "tcp", s.Addr)
		return err
	}
	notify := func(err error, next time.Duration) {
		s.Logger.Warnf("Failed connecting to consensus engine at %s, retrying in %s: %v", s.Addr, next, err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, s.ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}
