// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

// Package engine is an in-process stand-in for the consensus engine: it takes
// submitted transactions, orders them into blocks and delivers every block to
// every subscribed commit listener.
package engine

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/SmartBFT-Go/commitbridge/internal/rpc"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/pkg/errors"
)

const (
	maxLineBytes = 16 * 1024 * 1024
	replyTimeout = 10 * time.Second
)

// Engine orders submitted transactions into blocks of at most BatchSize,
// cutting a partial block after BatchTimeout.
type Engine struct {
	Logger       api.Logger
	BatchSize    int
	BatchTimeout time.Duration
	// LegacyShape delivers blocks with State.CommitTx instead of State.CommitBlock.
	LegacyShape bool

	pool     Pool
	batcher  *BatchBuilder
	intake   net.Listener
	stopChan chan struct{}
	running  sync.WaitGroup

	lock        sync.Mutex
	conns       map[net.Conn]struct{}
	subscribers []*subscriber
	blocks      [][]string

	deliverLock sync.Mutex
	index       int64
	callID      uint64
}

type subscriber struct {
	addr  string
	conn  net.Conn
	lines *rpc.LineReader
}

// Start accepts submissions on intake and starts cutting blocks.
func (e *Engine) Start(intake net.Listener) {
	e.intake = intake
	e.conns = make(map[net.Conn]struct{})
	e.stopChan = make(chan struct{})
	e.batcher = NewBatchBuilder(&e.pool, e.BatchSize, e.BatchTimeout)

	e.running.Add(2)
	go e.acceptLoop()
	go e.orderLoop()
}

// Addr is the intake address bridges submit to.
func (e *Engine) Addr() net.Addr {
	return e.intake.Addr()
}

// Subscribe connects to a commit listener. Every block ordered from now on is delivered to it.
func (e *Engine) Subscribe(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed connecting to %s", addr)
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	e.subscribers = append(e.subscribers, &subscriber{addr: addr, conn: conn, lines: rpc.NewLineReader(conn, maxLineBytes)})
	return nil
}

// Submitted returns the number of transactions waiting to be ordered.
func (e *Engine) Submitted() int {
	return e.pool.Size()
}

// Blocks returns the transactions of every block delivered so far.
func (e *Engine) Blocks() [][]string {
	e.lock.Lock()
	defer e.lock.Unlock()
	blocks := make([][]string, len(e.blocks))
	copy(blocks, e.blocks)
	return blocks
}

// Commit delivers txs as the next block, bypassing the pool. It returns after
// every subscriber acknowledged the block. Subscribers that fail are dropped.
func (e *Engine) Commit(txs ...string) error {
	e.deliverLock.Lock()
	defer e.deliverLock.Unlock()
	return e.deliver(txs)
}

// Stop stops ordering and closes every connection.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
		return
	default:
	}
	close(e.stopChan)
	e.batcher.Close()
	e.intake.Close()

	e.lock.Lock()
	for conn := range e.conns {
		conn.Close()
	}
	for _, s := range e.subscribers {
		s.conn.Close()
	}
	e.lock.Unlock()

	e.running.Wait()
}

func (e *Engine) orderLoop() {
	defer e.running.Done()
	for {
		batch := e.batcher.NextBatch()
		if batch == nil {
			return
		}
		if len(batch) == 0 {
			continue
		}
		if err := e.Commit(batch...); err != nil {
			e.Logger.Errorf("Failed delivering block: %v", err)
		}
	}
}

func (e *Engine) deliver(txs []string) error {
	e.index++
	e.callID++
	line, err := e.commitLine(e.callID, e.index, txs)
	if err != nil {
		return err
	}

	e.lock.Lock()
	e.blocks = append(e.blocks, txs)
	subscribers := make([]*subscriber, len(e.subscribers))
	copy(subscribers, e.subscribers)
	e.lock.Unlock()

	e.Logger.Debugf("Delivering block %d with %d transactions to %d subscribers", e.index, len(txs), len(subscribers))
	var failed error
	for _, s := range subscribers {
		if err := s.call(line, e.callID); err != nil {
			e.Logger.Warnf("Dropping subscriber %s: %v", s.addr, err)
			e.unsubscribe(s)
			if failed == nil {
				failed = errors.Wrapf(err, "block %d to %s", e.index, s.addr)
			}
		}
	}
	return failed
}

func (e *Engine) unsubscribe(s *subscriber) {
	s.conn.Close()
	e.lock.Lock()
	defer e.lock.Unlock()
	for i, sub := range e.subscribers {
		if sub == s {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			return
		}
	}
}

func (e *Engine) commitLine(id uint64, index int64, txs []string) ([]byte, error) {
	if txs == nil {
		txs = []string{}
	}
	now := time.Now().Unix()
	method := rpc.MethodCommitBlock
	var param interface{} = map[string]interface{}{
		"Body": map[string]interface{}{
			"Index":         index,
			"RoundReceived": index,
			"Timestamp":     now,
			"Transactions":  txs,
		},
	}
	if e.LegacyShape {
		method = rpc.MethodCommitTx
		param = map[string]interface{}{
			"index":        index,
			"round":        index,
			"timestamp":    now,
			"transactions": txs,
		}
	}
	b, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"method": method,
		"params": []interface{}{param},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed marshaling block")
	}
	return append(b, '\n'), nil
}

func (s *subscriber) call(line []byte, id uint64) error {
	if err := s.conn.SetDeadline(time.Now().Add(replyTimeout)); err != nil {
		return err
	}
	if _, err := s.conn.Write(line); err != nil {
		return err
	}
	reply, err := s.lines.ReadLine()
	if err != nil {
		return errors.Wrap(err, "no reply")
	}
	resp := &rpc.Response{}
	if err := json.Unmarshal(reply, resp); err != nil {
		return errors.Wrapf(err, "bad reply %s", reply)
	}
	var got uint64
	if err := json.Unmarshal(resp.ID, &got); err != nil || got != id {
		return errors.Errorf("reply %s does not answer call %d", reply, id)
	}
	return nil
}

func (e *Engine) acceptLoop() {
	defer e.running.Done()
	for {
		conn, err := e.intake.Accept()
		if err != nil {
			select {
			case <-e.stopChan:
			default:
				e.Logger.Errorf("Intake stopped accepting: %v", err)
			}
			return
		}

		e.lock.Lock()
		e.conns[conn] = struct{}{}
		e.lock.Unlock()

		e.running.Add(1)
		go e.serveIntake(conn)
	}
}

func (e *Engine) serveIntake(conn net.Conn) {
	defer e.running.Done()
	defer func() {
		conn.Close()
		e.lock.Lock()
		delete(e.conns, conn)
		e.lock.Unlock()
	}()

	lines := rpc.NewLineReader(conn, maxLineBytes)
	for {
		line, err := lines.ReadLine()
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case <-e.stopChan:
			default:
				e.Logger.Warnf("Intake connection %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		req, err := rpc.ParseRequest(line)
		if err != nil {
			e.Logger.Warnf("Intake: %v", err)
			continue
		}
		if req.Method == rpc.MethodSubmitTx && len(req.Params) == 1 {
			var tx string
			if err := json.Unmarshal(req.Params[0], &tx); err != nil {
				e.Logger.Warnf("Intake: transaction is not a string: %s", req.Params[0])
			} else {
				e.pool.Submit(tx)
			}
		}
		if _, err := conn.Write(rpc.NewResponse(req)); err != nil {
			return
		}
	}
}
