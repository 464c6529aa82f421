// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import (
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/SmartBFT-Go/commitbridge/internal/codec"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
)

// Reconciler applies committed transactions to the log store. A transaction
// confirms a pending local request, or is a remote author's write, or is
// discarded.
type Reconciler struct {
	Logger  api.Logger
	Metrics *Metrics
	Store   api.LogStore
	Pending *PendingTable
	// Self is the local identity.
	Self string
	// AllowedRemoteAuthors, when not empty, is the only set of remote authors
	// whose transactions are applied.
	AllowedRemoteAuthors map[string]struct{}
	// Rebuild applies local transactions that match no pending request instead
	// of discarding them, for replaying a recording into an empty store.
	Rebuild bool

	// appends of one author are serialized; authors sharing a stripe also
	// wait for each other
	authorLocks [authorLockStripes]sync.Mutex
}

const authorLockStripes = 64

// HandleBlock applies the block's transactions one after the other, in block
// order. A transaction that fails never stops the ones after it.
func (r *Reconciler) HandleBlock(block *types.CommitBlock) {
	for i, tx := range block.Transactions {
		outcome := r.HandleTransaction(tx)
		r.Logger.Debugf("Transaction %d of block %d: %s", i, block.Index, outcome)
	}
}

// HandleTransaction decodes and applies one transaction of a block.
func (r *Reconciler) HandleTransaction(tx json.RawMessage) Outcome {
	env, shape, err := codec.DecodeTransaction(tx, r.Self)
	if err != nil {
		var de *types.DecodeError
		if errors.As(err, &de) {
			r.Logger.Warnf("Dropping transaction: %v; raw: %s", err, truncate(de.Raw))
		} else {
			r.Logger.Warnf("Dropping transaction: %v", err)
		}
		r.Metrics.CountTransaction(OutcomeDecodeError)
		return OutcomeDecodeError
	}
	if shape != codec.ShapeCanonical {
		r.Logger.Debugf("Transaction decoded from %s shape", shape)
	}
	return r.Apply(env)
}

// Apply reconciles one decoded envelope.
func (r *Reconciler) Apply(env *types.Envelope) Outcome {
	outcome := r.apply(env)
	r.Metrics.CountTransaction(outcome)
	return outcome
}

func (r *Reconciler) apply(env *types.Envelope) Outcome {
	if env.RequestID != "" {
		if req := r.Pending.Take(env.RequestID); req != nil {
			entry, err := r.appendNext(env.Author, env.Payload)
			r.Pending.Complete(req, entry, err)
			if err != nil {
				r.Logger.Errorf("Failed applying local request %s: %v", env.RequestID, err)
				return OutcomeAppendError
			}
			r.Logger.Infof("Applied local request %s as %s#%d", env.RequestID, entry.Author, entry.Sequence)
			return OutcomeLocal
		}
	}

	if env.Author != "" && env.Author != r.Self {
		if !r.remoteAllowed(env.Author) {
			r.Logger.Warnf("Rejected transaction of %s: author not allowed", env.Author)
			return OutcomeRejected
		}
		entry, err := r.appendNext(env.Author, env.Payload)
		if err != nil {
			r.Logger.Errorf("Failed applying transaction of %s: %v", env.Author, err)
			return OutcomeAppendError
		}
		r.Logger.Infof("Applied transaction of %s as #%d", entry.Author, entry.Sequence)
		return OutcomeRemote
	}

	if r.Rebuild && env.Author != "" {
		entry, err := r.appendNext(env.Author, env.Payload)
		if err != nil {
			r.Logger.Errorf("Failed rebuilding transaction of %s: %v", env.Author, err)
			return OutcomeAppendError
		}
		r.Logger.Debugf("Rebuilt local transaction as #%d", entry.Sequence)
		return OutcomeLocal
	}

	if env.RequestID != "" && r.Pending.WasResolved(env.RequestID) {
		r.Logger.Infof("Discarding redelivered local request %s", env.RequestID)
		return OutcomeDuplicate
	}
	r.Logger.Warnf("Discarding local transaction without a pending request (request id %q), may be a duplicate or out of order", env.RequestID)
	return OutcomeUnmatched
}

func (r *Reconciler) remoteAllowed(author string) bool {
	if len(r.AllowedRemoteAuthors) == 0 {
		return true
	}
	_, allowed := r.AllowedRemoteAuthors[author]
	return allowed
}

// appendNext appends content at the author's next sequence number. Appends of
// one author are serialized.
func (r *Reconciler) appendNext(author string, content types.Content) (*types.Entry, error) {
	lock := r.authorLock(author)
	lock.Lock()
	defer lock.Unlock()

	tip, err := r.Store.GetLatest(author)
	if err != nil {
		return nil, &types.AppendError{Author: author, Err: errors.Wrap(err, "failed reading chain tip")}
	}
	sequence := uint64(1)
	if tip != nil {
		sequence = tip.Sequence + 1
	}
	entry, err := r.Store.Append(author, content, tip, sequence)
	if err != nil {
		if types.IsAppendError(err) {
			return nil, err
		}
		return nil, &types.AppendError{Author: author, Sequence: sequence, Err: err}
	}
	return entry, nil
}

func (r *Reconciler) authorLock(author string) *sync.Mutex {
	return &r.authorLocks[authorStripe(author)]
}

func authorStripe(author string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(author))
	return h.Sum32() % authorLockStripes
}
