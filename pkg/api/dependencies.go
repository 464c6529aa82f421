// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package api

import (
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
)

// Logger defines the contract for logging.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Panicf(template string, args ...interface{})
}

// LogStore is the hash-chained, per-author append-only log the bridge writes committed
// transactions into.
type LogStore interface {
	// GetLatest returns the tip of the author's chain, or nil if the author has no entries.
	GetLatest(author string) (*types.ChainPosition, error)
	// Append persists a new entry extending previous. The store rejects entries that do not
	// extend the author's current tip with types.ErrSequenceConflict.
	Append(author string, content types.Content, previous *types.ChainPosition, sequence uint64) (*types.Entry, error)
	Close() error
}

// CommitHandler consumes consensus-ordered blocks. Implementations must apply the block's
// transactions in order and must not return before they have all been applied.
type CommitHandler interface {
	HandleBlock(block *types.CommitBlock)
}
