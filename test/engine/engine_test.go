// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package engine

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/SmartBFT-Go/commitbridge/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestBatcher(t *testing.T) {
	pool := &Pool{}
	pool.Submit("a")

	batcher := NewBatchBuilder(pool, 2, 10*time.Millisecond)
	res := batcher.NextBatch()
	assert.Equal(t, []string{"a"}, res) // after timeout

	res = batcher.NextBatch()
	assert.Len(t, res, 0)

	pool.Submit("b")
	pool.Submit("c")
	pool.Submit("d")
	assert.Equal(t, []string{"b", "c"}, batcher.NextBatch())
	assert.Equal(t, []string{"d"}, batcher.NextBatch())

	batcher.Close()
	assert.Nil(t, batcher.NextBatch())
	batcher.Close()
}

// commitEndpoint acknowledges every call and hands the parsed call to calls.
func commitEndpoint(t *testing.T) (net.Listener, chan *rpc.Request) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	calls := make(chan *rpc.Request, 10)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			req, err := rpc.ParseRequest(scanner.Bytes())
			if err != nil {
				continue
			}
			calls <- req
			if _, err := conn.Write(rpc.NewResponse(req)); err != nil {
				return
			}
		}
	}()
	return l, calls
}

func TestEngineOrdersSubmissions(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	basicLog, err := zap.NewDevelopment()
	require.NoError(t, err)

	for _, legacy := range []bool{false, true} {
		intake, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		e := &Engine{Logger: basicLog.Sugar(), BatchSize: 2, BatchTimeout: 200 * time.Millisecond, LegacyShape: legacy}
		e.Start(intake)

		endpoint, calls := commitEndpoint(t)
		require.NoError(t, e.Subscribe(endpoint.Addr().String()))

		conn, err := net.Dial("tcp", e.Addr().String())
		require.NoError(t, err)
		for i, tx := range []string{"dHgx", "dHgy", "dHgz"} {
			line, err := rpc.NewSubmitTx(uint64(i+1), tx)
			require.NoError(t, err)
			_, err = conn.Write(line)
			require.NoError(t, err)
		}

		path := "params.0.Body.Transactions"
		method := rpc.MethodCommitBlock
		if legacy {
			path = "params.0.transactions"
			method = rpc.MethodCommitTx
		}

		var delivered []string
		var indexes []int64
		for len(delivered) < 3 {
			select {
			case req := <-calls:
				assert.Equal(t, method, req.Method)
				raw := gjson.ParseBytes(req.Params[0])
				if legacy {
					indexes = append(indexes, raw.Get("index").Int())
				} else {
					indexes = append(indexes, raw.Get("Body.Index").Int())
				}
				for _, tx := range gjson.Get(`{"params":[`+string(req.Params[0])+`]}`, path).Array() {
					delivered = append(delivered, tx.String())
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("only %d transactions delivered", len(delivered))
			}
		}
		assert.Equal(t, []string{"dHgx", "dHgy", "dHgz"}, delivered)
		assert.Equal(t, []int64{1, 2}, indexes)
		assert.Len(t, e.Blocks(), 2)

		require.NoError(t, e.Commit("ZXh0cmE="))
		req := <-calls
		assert.Contains(t, string(req.Params[0]), "ZXh0cmE=")

		conn.Close()
		e.Stop()
		endpoint.Close()
	}
}
