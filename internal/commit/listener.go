// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import (
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/SmartBFT-Go/commitbridge/internal/rpc"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/pkg/errors"
)

// Listen listens on host:port. If the port is in use it waits retryDelay and
// tries port+1 once.
func Listen(logger api.Logger, host string, port int, retryDelay time.Duration) (net.Listener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		return nil, errors.Wrapf(err, "failed listening on %s", addr)
	}

	next := net.JoinHostPort(host, strconv.Itoa(port+1))
	logger.Warnf("Address %s in use, retrying on %s in %s", addr, next, retryDelay)
	time.Sleep(retryDelay)
	l, err = net.Listen("tcp", next)
	if err != nil {
		return nil, errors.Wrapf(err, "failed listening on %s", next)
	}
	logger.Warnf("Commit listener is on %s, the consensus engine must deliver commits there", next)
	return l, nil
}

// Listener serves commit calls from the consensus engine. Calls on one
// connection are handled one at a time, in arrival order, and every parsed
// call gets exactly one response line.
type Listener struct {
	Logger       api.Logger
	Metrics      *Metrics
	Handler      api.CommitHandler
	MaxLineBytes int

	listener net.Listener
	lock     sync.Mutex
	conns    map[net.Conn]struct{}
	stopChan chan struct{}
	running  sync.WaitGroup
}

// Start serves connections accepted by l until Stop.
func (cl *Listener) Start(l net.Listener) {
	cl.listener = l
	cl.conns = make(map[net.Conn]struct{})
	cl.stopChan = make(chan struct{})
	cl.running.Add(1)
	go cl.acceptLoop()
	cl.Logger.Infof("Commit listener serving on %s", l.Addr())
}

// Addr returns the address the listener serves on.
func (cl *Listener) Addr() net.Addr {
	return cl.listener.Addr()
}

func (cl *Listener) Stop() {
	select {
	case <-cl.stopChan:
		return
	default:
	}
	close(cl.stopChan)
	cl.listener.Close()

	cl.lock.Lock()
	for conn := range cl.conns {
		conn.Close()
	}
	cl.lock.Unlock()

	cl.running.Wait()
}

func (cl *Listener) acceptLoop() {
	defer cl.running.Done()

	for {
		conn, err := cl.listener.Accept()
		if err != nil {
			select {
			case <-cl.stopChan:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			cl.Logger.Errorf("Commit listener failed accepting: %v", err)
			return
		}

		cl.lock.Lock()
		select {
		case <-cl.stopChan:
			cl.lock.Unlock()
			conn.Close()
			return
		default:
		}
		cl.conns[conn] = struct{}{}
		cl.running.Add(1)
		cl.lock.Unlock()

		go cl.serve(conn)
	}
}

func (cl *Listener) serve(conn net.Conn) {
	defer cl.running.Done()
	defer func() {
		cl.lock.Lock()
		delete(cl.conns, conn)
		cl.lock.Unlock()
		conn.Close()
	}()

	remote := conn.RemoteAddr()
	cl.Logger.Infof("Consensus engine connected from %s", remote)

	lines := rpc.NewLineReader(conn, cl.MaxLineBytes)
	for {
		line, err := lines.ReadLine()
		if err == rpc.ErrLineTooLong {
			cl.Logger.Warnf("Discarded a line over %d bytes from %s", cl.MaxLineBytes, remote)
			cl.Metrics.CountMalformedLines.Add(1)
			continue
		}
		if err != nil {
			if err == io.EOF || isClosed(err) {
				cl.Logger.Infof("Consensus engine connection from %s closed", remote)
			} else {
				cl.Logger.Warnf("Consensus engine connection from %s failed: %v", remote, err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		response, ok := cl.handleLine(line, remote)
		if !ok {
			continue
		}
		if _, err := conn.Write(response); err != nil {
			cl.Logger.Warnf("Failed responding to %s: %v", remote, err)
			return
		}
	}
}

// handleLine processes one call and returns its response; ok is false for a
// line that is not a call.
func (cl *Listener) handleLine(line []byte, remote net.Addr) (response []byte, ok bool) {
	req, err := rpc.ParseRequest(line)
	if err != nil {
		cl.Logger.Warnf("Discarded line from %s: %v; line: %s", remote, err, truncate(line))
		cl.Metrics.CountMalformedLines.Add(1)
		return nil, false
	}

	if !rpc.IsCommit(req.Method) {
		cl.Logger.Debugf("Acknowledging non-commit call %s from %s", req.Method, remote)
		return rpc.NewResponse(req), true
	}

	block, err := ParseBlock(req)
	if err != nil {
		cl.Logger.Warnf("Treating %s call %s from %s as an empty block: %v", req.Method, string(req.ID), remote, err)
		return rpc.NewResponse(req), true
	}

	cl.Logger.Infof("Received %s: %s", req.Method, block)
	cl.Metrics.CountOfBlocks.Add(1)
	start := time.Now()
	cl.Handler.HandleBlock(block)
	cl.Metrics.LatencyBlock.Observe(time.Since(start).Seconds())

	return rpc.NewResponse(req), true
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
