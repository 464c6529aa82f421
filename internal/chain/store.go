// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

// Package chain implements the per-author, hash-linked append-only log that
// committed transactions are written into.
package chain

import (
	"time"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
)

const (
	// KindWAL keeps the log in a write-ahead log directory.
	KindWAL = "wal"
	// KindBolt keeps the log in a bbolt database file.
	KindBolt = "bolt"
)

// Store is a LogStore that can also list an author's entries.
type Store interface {
	api.LogStore
	// History returns the author's entries in sequence order.
	History(author string) ([]*types.Entry, error)
	// Authors returns every author with at least one entry.
	Authors() []string
}

// Clock returns the timestamp given to new entries.
type Clock func() time.Time

// Open opens the store of the given kind at path, creating it if it does not exist.
func Open(logger api.Logger, kind, path string) (Store, error) {
	switch kind {
	case KindWAL, "":
		return OpenWALStore(logger, path, nil)
	case KindBolt:
		return OpenBoltStore(logger, path, nil)
	default:
		return nil, errors.Errorf("unknown store kind: %s", kind)
	}
}

func appendError(author string, sequence uint64, err error) error {
	return &types.AppendError{Author: author, Sequence: sequence, Err: err}
}
