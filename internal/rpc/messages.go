// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

// Package rpc holds the line-delimited JSON-RPC messages exchanged with the
// consensus engine.
package rpc

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	// MethodSubmitTx submits one transaction to the consensus engine.
	MethodSubmitTx = "Babble.SubmitTx"
	// MethodCommitBlock delivers a committed block.
	MethodCommitBlock = "State.CommitBlock"
	// MethodCommitTx delivers a committed block in the legacy shape.
	MethodCommitTx = "State.CommitTx"
)

// Request is one RPC call. ID is kept raw so a response echoes it unchanged.
// A method that is not a string decodes as "", and params that are not an
// array leave Params empty; RawParams always holds the params as received.
type Request struct {
	ID        json.RawMessage
	Method    string
	Params    []json.RawMessage
	RawParams json.RawMessage
}

// UnmarshalJSON only fails when data is not a JSON object, so every call
// that carries an id can still be answered.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     json.RawMessage `json:"id"`
		Method json.RawMessage `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Request{ID: raw.ID, RawParams: raw.Params}
	var method string
	if json.Unmarshal(raw.Method, &method) == nil {
		r.Method = method
	}
	var params []json.RawMessage
	if json.Unmarshal(raw.Params, &params) == nil {
		r.Params = params
	}
	return nil
}

// Response answers the call with the same ID.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result"`
}

// CommitResult is the result of every commit method.
type CommitResult struct {
	StateHash string            `json:"stateHash"`
	Receipts  []json.RawMessage `json:"receipts"`
}

// IsCommit reports whether method delivers a block.
func IsCommit(method string) bool {
	return method == MethodCommitBlock || method == MethodCommitTx
}

// NewSubmitTx returns the line submitting tx under call number id.
func NewSubmitTx(id uint64, tx string) ([]byte, error) {
	params, err := json.Marshal([]string{tx})
	if err != nil {
		return nil, errors.Wrap(err, "failed marshaling params")
	}
	return marshalLine(&struct {
		ID     uint64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}{ID: id, Method: MethodSubmitTx, Params: params})
}

// ParseRequest parses one trimmed, non-empty line.
func ParseRequest(line []byte) (*Request, error) {
	req := &Request{}
	if err := json.Unmarshal(line, req); err != nil {
		return nil, errors.Wrap(err, "malformed RPC line")
	}
	return req, nil
}

// NewResponse returns the response line for req. Commit methods get an empty
// CommitResult, every other method gets true.
func NewResponse(req *Request) []byte {
	var result interface{} = true
	if IsCommit(req.Method) {
		result = &CommitResult{Receipts: []json.RawMessage{}}
	}
	id := req.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	line, err := marshalLine(&Response{ID: id, Result: result})
	if err != nil {
		// ID came out of a successful unmarshal, it re-encodes.
		panic(err)
	}
	return line
}

func marshalLine(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
