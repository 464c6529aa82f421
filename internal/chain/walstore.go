// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package chain

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/SmartBFT-Go/commitbridge/pkg/wal"
	"github.com/pkg/errors"
)

// WALStore keeps entries in a write-ahead log and indexes them in memory.
type WALStore struct {
	logger  api.Logger
	now     Clock
	lock    sync.Mutex
	log     *wal.WriteAheadLogFile
	state   *State
	entries map[string][]*types.Entry
}

// OpenWALStore opens the log in dir, replaying it to rebuild every author's
// chain, or creates an empty one. A torn last record is repaired.
func OpenWALStore(logger api.Logger, dir string, now Clock) (*WALStore, error) {
	if now == nil {
		now = time.Now
	}
	s := &WALStore{
		logger:  logger,
		now:     now,
		state:   NewState(),
		entries: make(map[string][]*types.Entry),
	}

	if !wal.Exists(dir) {
		log, err := wal.Create(logger, dir, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "failed creating chain log at %s", dir)
		}
		s.log = log
		return s, nil
	}

	items, err := s.readAll(dir)
	if err == io.ErrUnexpectedEOF {
		logger.Warnf("Chain log at %s ends with a torn record, repairing", dir)
		if err = wal.Repair(logger, dir); err != nil {
			return nil, errors.Wrapf(err, "failed repairing chain log at %s", dir)
		}
		items, err = s.readAll(dir)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed reading chain log at %s", dir)
	}

	for i, item := range items {
		e, err := DecodeEntry(item)
		if err != nil {
			s.log.Close()
			return nil, errors.Wrapf(err, "failed decoding chain log item %d", i)
		}
		if err := s.index(e); err != nil {
			s.log.Close()
			return nil, errors.Wrapf(err, "chain log item %d", i)
		}
	}

	logger.Infof("Chain log opened at %s with %d entries of %d authors", dir, len(items), len(s.entries))
	return s, nil
}

func (s *WALStore) readAll(dir string) ([][]byte, error) {
	log, err := wal.Open(s.logger, dir, nil)
	if err != nil {
		return nil, err
	}
	items, err := log.ReadAll()
	if err != nil {
		log.Close()
		return nil, err
	}
	s.log = log
	return items, nil
}

func (s *WALStore) index(e *types.Entry) error {
	if err := VerifyEntry(e); err != nil {
		return err
	}
	if err := s.state.Advance(e); err != nil {
		return err
	}
	s.entries[e.Author] = append(s.entries[e.Author], e)
	return nil
}

func (s *WALStore) GetLatest(author string) (*types.ChainPosition, error) {
	return s.state.Tip(author), nil
}

func (s *WALStore) Append(author string, content types.Content, previous *types.ChainPosition, sequence uint64) (*types.Entry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.log == nil {
		return nil, appendError(author, sequence, types.ErrStopped)
	}
	if err := s.state.Check(author, previous, sequence); err != nil {
		return nil, appendError(author, sequence, err)
	}

	e, err := NewEntry(author, content, previous, sequence, s.now().UnixMilli())
	if err != nil {
		return nil, appendError(author, sequence, err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, appendError(author, sequence, err)
	}
	if err := s.log.Append(data); err != nil {
		return nil, appendError(author, sequence, err)
	}
	if err := s.index(e); err != nil {
		s.logger.Panicf("Entry %s persisted but does not extend the chain of %s: %v", e.Key, author, err)
	}

	s.logger.Debugf("Appended %s#%d: %s", author, sequence, e.Key)
	return e, nil
}

func (s *WALStore) History(author string) ([]*types.Entry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	history := make([]*types.Entry, len(s.entries[author]))
	copy(history, s.entries[author])
	return history, nil
}

func (s *WALStore) Authors() []string {
	return s.state.Authors()
}

func (s *WALStore) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	return err
}
