// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package chain

import (
	"sort"
	"sync"

	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
)

// State holds the tip of every author's chain. It is rebuilt from the
// persisted log on open and advanced only by successful appends.
type State struct {
	lock sync.RWMutex
	tips map[string]types.ChainPosition
}

func NewState() *State {
	return &State{tips: make(map[string]types.ChainPosition)}
}

// Tip returns the author's tip, or nil if the author has no entries.
func (s *State) Tip(author string) *types.ChainPosition {
	s.lock.RLock()
	defer s.lock.RUnlock()

	tip, exists := s.tips[author]
	if !exists {
		return nil
	}
	return &tip
}

// Check verifies that an append at sequence on top of previous extends the author's tip.
func (s *State) Check(author string, previous *types.ChainPosition, sequence uint64) error {
	tip := s.Tip(author)
	if tip == nil {
		if previous != nil || sequence != 1 {
			return errors.Wrapf(types.ErrSequenceConflict, "%s has no entries, got sequence %d", author, sequence)
		}
		return nil
	}
	if previous == nil || previous.Key != tip.Key || sequence != tip.Sequence+1 {
		return errors.Wrapf(types.ErrSequenceConflict, "%s tip is %d, got sequence %d", author, tip.Sequence, sequence)
	}
	return nil
}

// Advance moves the author's tip to the entry, which must extend it.
func (s *State) Advance(e *types.Entry) error {
	var previous *types.ChainPosition
	if e.Previous != "" {
		previous = &types.ChainPosition{Author: e.Author, Key: e.Previous, Sequence: e.Sequence - 1}
	}
	if err := s.Check(e.Author, previous, e.Sequence); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.tips[e.Author] = *e.Position()
	return nil
}

// Authors returns the authors with at least one entry, sorted.
func (s *State) Authors() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	authors := make([]string, 0, len(s.tips))
	for a := range s.tips {
		authors = append(authors, a)
	}
	sort.Strings(authors)
	return authors
}
