// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package types

import (
	"encoding/json"
	"fmt"
)

// TypeField is the content key carrying the type discriminator.
const TypeField = "type"

// Content is an opaque content record. It is only required to carry a
// non-empty string under TypeField.
type Content map[string]interface{}

// Type returns the content's type discriminator, or "" if it has none.
func (c Content) Type() string {
	if c == nil {
		return ""
	}
	t, _ := c[TypeField].(string)
	return t
}

// Envelope is the normalized form of a transaction after decoding,
// independent of the shape it arrived in.
type Envelope struct {
	// RequestID correlates the transaction with a local pending request; empty if none.
	RequestID string  `json:"requestId,omitempty"`
	Payload   Content `json:"payload"`
	Author    string  `json:"author"`
}

// CommitBlock is one consensus-ordered batch of transactions. The order of
// Transactions is the binding total order.
type CommitBlock struct {
	Index         int64             `json:"index"`
	RoundReceived *int64            `json:"round,omitempty"`
	Timestamp     int64             `json:"timestamp"`
	Transactions  []json.RawMessage `json:"transactions"`
}

func (b *CommitBlock) String() string {
	if b.RoundReceived != nil {
		return fmt.Sprintf("block %d (round %d, %d txs)", b.Index, *b.RoundReceived, len(b.Transactions))
	}
	return fmt.Sprintf("block %d (%d txs)", b.Index, len(b.Transactions))
}

// ChainPosition identifies the tip of an author's chain.
type ChainPosition struct {
	Author   string `json:"author"`
	Key      string `json:"key"`
	Sequence uint64 `json:"sequence"`
}

// Entry is one persisted element of an author's chain.
type Entry struct {
	Key       string  `json:"key"`
	Previous  string  `json:"previous,omitempty"`
	Author    string  `json:"author"`
	Sequence  uint64  `json:"sequence"`
	Timestamp int64   `json:"timestamp"`
	Content   Content `json:"content"`
	Hash      string  `json:"hash"`
}

// Position returns the chain position this entry occupies.
func (e *Entry) Position() *ChainPosition {
	return &ChainPosition{Author: e.Author, Key: e.Key, Sequence: e.Sequence}
}

// Completion receives the outcome of a published write: the appended entry, or an error.
type Completion func(entry *Entry, err error)
