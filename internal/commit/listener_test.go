// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/SmartBFT-Go/commitbridge/internal/rpc"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// blockRecorder is a CommitHandler that keeps what it was given.
type blockRecorder struct {
	lock   sync.Mutex
	blocks []*types.CommitBlock
}

func (br *blockRecorder) HandleBlock(block *types.CommitBlock) {
	br.lock.Lock()
	defer br.lock.Unlock()
	br.blocks = append(br.blocks, block)
}

func (br *blockRecorder) Blocks() []*types.CommitBlock {
	br.lock.Lock()
	defer br.lock.Unlock()
	return append([]*types.CommitBlock(nil), br.blocks...)
}

func startListener(t *testing.T, handler interface {
	HandleBlock(*types.CommitBlock)
}) *Listener {
	l, err := Listen(testLogger(t), "127.0.0.1", 0, 0)
	require.NoError(t, err)
	cl := &Listener{
		Logger:       testLogger(t),
		Metrics:      testMetrics(),
		Handler:      handler,
		MaxLineBytes: 1024 * 1024,
	}
	cl.Start(l)
	return cl
}

func dial(t *testing.T, cl *Listener) (net.Conn, *bufio.Reader) {
	conn, err := net.Dial("tcp", cl.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	return conn, bufio.NewReader(conn)
}

func TestListenerFraming(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := newStore(t)
	r := newReconciler(t, store, newPendingTable(t, 10, nil))
	cl := startListener(t, r)
	defer cl.Stop()

	conn, responses := dial(t, cl)
	defer conn.Close()

	tx := encodeTx(t, types.Envelope{Payload: types.Content{"type": "post"}, Author: "@bob"})
	first := fmt.Sprintf(`{"id":7,"method":"State.CommitBlock","params":[{"Body":{"Index":4,"Transactions":[%s]}}]}`, tx)
	_, err := conn.Write([]byte(first + "\n" + `{"id":8,"method":` + "\n"))
	require.NoError(t, err)

	line, err := responses.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"id":7,"result":{"stateHash":"","receipts":[]}}`+"\n", line)

	// the broken second line got no response, the connection still serves
	_, err = conn.Write([]byte(`{"id":9,"method":"Babble.Ping"}` + "\n"))
	require.NoError(t, err)
	line, err = responses.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"id":9,"result":true}`+"\n", line)

	history, err := store.History("@bob")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestListenerBlockSchemas(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	recorder := &blockRecorder{}
	cl := startListener(t, recorder)
	defer cl.Stop()

	conn, responses := dial(t, cl)
	defer conn.Close()

	lines := []string{
		`{"id":1,"method":"State.CommitBlock","params":[{"Body":{"Index":1,"RoundReceived":3,"Timestamp":1700000000,"Transactions":["YQ==","Yg=="]}}]}`,
		`{"id":2,"method":"State.CommitTx","params":[{"index":2,"round":4,"timestamp":5,"transactions":["Yw=="]}]}`,
		`{"id":3,"method":"State.CommitBlock","params":[{"Body":{"Index":3,"Transactions":null}}]}`,
		`{"id":4,"method":"State.CommitBlock","params":[{"Body":{"Index":4}}]}`,
		`{"id":5,"method":"State.CommitBlock","params":[]}`,
		``,
		`   `,
		`{"id":6,"method":"State.CommitTx","params":[{"Body":{"Index":6,"Transactions":[]}}]}`,
		`{"id":7,"method":"State.CommitBlock","params":{"Body":{"Index":7,"Transactions":["ZA=="]}}}`,
		`{"id":8,"method":"State.CommitTx","params":"ZQ=="}`,
		`{"id":9,"method":{"name":"State.CommitBlock"},"params":[{"Body":{"Index":9,"Transactions":["Zg=="]}}]}`,
	}
	for _, l := range lines {
		_, err := conn.Write([]byte(l + "\r\n"))
		require.NoError(t, err)
	}

	for id := 1; id <= 8; id++ {
		line, err := responses.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, `{"id":`+strconv.Itoa(id)+`,"result":{"stateHash":"","receipts":[]}}`+"\n", line)
	}
	line, err := responses.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"id":9,"result":true}`+"\n", line)

	blocks := recorder.Blocks()
	require.Len(t, blocks, 4)

	assert.Equal(t, int64(1), blocks[0].Index)
	require.NotNil(t, blocks[0].RoundReceived)
	assert.Equal(t, int64(3), *blocks[0].RoundReceived)
	assert.Equal(t, int64(1700000000), blocks[0].Timestamp)
	assert.Equal(t, []json.RawMessage{json.RawMessage(`"YQ=="`), json.RawMessage(`"Yg=="`)}, blocks[0].Transactions)

	assert.Equal(t, int64(2), blocks[1].Index)
	assert.Equal(t, int64(4), *blocks[1].RoundReceived)
	assert.Len(t, blocks[1].Transactions, 1)

	assert.Equal(t, int64(3), blocks[2].Index)
	assert.Nil(t, blocks[2].RoundReceived)
	assert.Empty(t, blocks[2].Transactions)

	assert.Equal(t, int64(6), blocks[3].Index)
}

func TestListenerConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	recorder := &blockRecorder{}
	cl := startListener(t, recorder)

	// a closed connection does not stop the listener
	conn, _ := dial(t, cl)
	_, err := conn.Write([]byte(`{"id":1,"method":"State.CommitBlock","params":[{"Body":{"Index":1,"Transactions":[]}}]}`))
	require.NoError(t, err)
	conn.Close()

	conn, responses := dial(t, cl)
	_, err = conn.Write([]byte(`{"id":2,"method":"State.CommitBlock","params":[{"Body":{"Index":2,"Transactions":[]}}]}` + "\n"))
	require.NoError(t, err)
	line, err := responses.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"id":2`)

	// an unterminated call is never dispatched
	blocks := recorder.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, int64(2), blocks[0].Index)

	// Stop closes open connections
	cl.Stop()
	cl.Stop()
	_, err = responses.ReadString('\n')
	assert.Error(t, err)
	conn.Close()
}

func TestListenerLineTooLong(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l, err := Listen(testLogger(t), "127.0.0.1", 0, 0)
	require.NoError(t, err)
	cl := &Listener{Logger: testLogger(t), Metrics: testMetrics(), Handler: &blockRecorder{}, MaxLineBytes: 64}
	cl.Start(l)
	defer cl.Stop()

	conn, responses := dial(t, cl)
	defer conn.Close()

	_, err = conn.Write([]byte(fmt.Sprintf(`{"id":1,"method":"x","params":["%0100d"]}`+"\n", 0)))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"id":2,"method":"x"}` + "\n"))
	require.NoError(t, err)

	line, err := responses.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"id":2,"result":true}`+"\n", line)
}

func TestListenPortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	l, err := Listen(testLogger(t), "127.0.0.1", port, 10*time.Millisecond)
	if err != nil {
		// port+1 happened to be taken as well
		assert.Contains(t, err.Error(), strconv.Itoa(port+1))
		return
	}
	defer l.Close()
	assert.Equal(t, port+1, l.Addr().(*net.TCPAddr).Port)
}

func TestParseBlock(t *testing.T) {
	req, err := rpc.ParseRequest([]byte(`{"id":1,"method":"State.CommitBlock","params":[{"Body":{"Index":"x","Transactions":{"a":1}}}]}`))
	require.NoError(t, err)
	_, err = ParseBlock(req)
	assert.True(t, types.IsDecodeError(err))

	req, err = rpc.ParseRequest([]byte(`{"id":1,"method":"State.CommitBlock"}`))
	require.NoError(t, err)
	_, err = ParseBlock(req)
	assert.Contains(t, err.Error(), "without params")

	req, err = rpc.ParseRequest([]byte(`{"id":1,"method":"State.CommitBlock","params":{"Body":{"Index":1,"Transactions":[]}}}`))
	require.NoError(t, err)
	_, err = ParseBlock(req)
	assert.True(t, types.IsDecodeError(err))
	assert.Contains(t, err.Error(), "not an array")
}
