// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import (
	"encoding/json"

	"github.com/SmartBFT-Go/commitbridge/internal/rpc"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/tidwall/gjson"
)

// blockSchema names the fields of one known block shape.
type blockSchema struct {
	name         string
	body         string
	index        string
	round        string
	timestamp    string
	transactions string
}

var (
	commitBlockSchema = blockSchema{
		name:         "commit-block",
		body:         "Body",
		index:        "Index",
		round:        "RoundReceived",
		timestamp:    "Timestamp",
		transactions: "Transactions",
	}
	commitTxSchema = blockSchema{
		name:         "commit-tx",
		index:        "index",
		round:        "round",
		timestamp:    "timestamp",
		transactions: "transactions",
	}
)

// ParseBlock extracts the block carried by a commit call. The schema matching
// the method is tried first, then the other one. Anything else is a
// *types.DecodeError.
func ParseBlock(req *rpc.Request) (*types.CommitBlock, error) {
	if len(req.RawParams) > 0 && !gjson.ParseBytes(req.RawParams).IsArray() {
		return nil, &types.DecodeError{Reason: "commit params are not an array", Raw: truncateRaw(req.RawParams)}
	}
	if len(req.Params) == 0 {
		return nil, &types.DecodeError{Reason: "commit call without params"}
	}
	param := gjson.ParseBytes(req.Params[0])

	schemas := []blockSchema{commitBlockSchema, commitTxSchema}
	if req.Method == rpc.MethodCommitTx {
		schemas = []blockSchema{commitTxSchema, commitBlockSchema}
	}
	for _, schema := range schemas {
		if block, ok := schema.extract(param); ok {
			return block, nil
		}
	}

	return nil, &types.DecodeError{Reason: "no transaction list in commit call", Raw: truncateRaw(req.Params[0])}
}

func truncateRaw(raw []byte) []byte {
	if len(raw) > 256 {
		return raw[:256]
	}
	return raw
}

func (s blockSchema) extract(param gjson.Result) (*types.CommitBlock, bool) {
	body := param
	if s.body != "" {
		body = param.Get(s.body)
	}
	if !body.IsObject() {
		return nil, false
	}
	txs := body.Get(s.transactions)
	if !txs.IsArray() && txs.Type != gjson.Null {
		return nil, false
	}
	if !txs.Exists() {
		return nil, false
	}

	block := &types.CommitBlock{
		Index:        body.Get(s.index).Int(),
		Timestamp:    body.Get(s.timestamp).Int(),
		Transactions: make([]json.RawMessage, 0),
	}
	if round := body.Get(s.round); round.Type == gjson.Number {
		r := round.Int()
		block.RoundReceived = &r
	}
	txs.ForEach(func(_, tx gjson.Result) bool {
		block.Transactions = append(block.Transactions, json.RawMessage(tx.Raw))
		return true
	})
	return block, true
}
