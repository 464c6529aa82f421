// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package chain

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	tipsBucket    = []byte("tips")
	entriesBucket = []byte("entries")
)

// BoltStore keeps entries in a bbolt database: one nested bucket per author,
// keyed by big-endian sequence, plus a bucket of tips.
type BoltStore struct {
	logger api.Logger
	now    Clock
	lock   sync.Mutex
	db     *bolt.DB
	state  *State
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(logger api.Logger, path string, now Clock) (*BoltStore, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed creating directory of %s", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed opening %s", path)
	}

	s := &BoltStore{logger: logger, now: now, db: db, state: NewState()}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}
		tips, err := tx.CreateBucketIfNotExists(tipsBucket)
		if err != nil {
			return err
		}
		return tips.ForEach(func(author, v []byte) error {
			e, err := DecodeEntry(v)
			if err != nil {
				return errors.Wrapf(err, "tip of %s", author)
			}
			if err := VerifyEntry(e); err != nil {
				return err
			}
			return s.loadTip(e)
		})
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed loading %s", path)
	}

	logger.Infof("Chain database opened at %s with %d authors", path, len(s.state.Authors()))
	return s, nil
}

// loadTip sets the tip without requiring it to extend an empty chain.
func (s *BoltStore) loadTip(e *types.Entry) error {
	s.state.lock.Lock()
	defer s.state.lock.Unlock()
	if _, exists := s.state.tips[e.Author]; exists {
		return errors.Errorf("duplicate tip for %s", e.Author)
	}
	s.state.tips[e.Author] = *e.Position()
	return nil
}

func (s *BoltStore) GetLatest(author string) (*types.ChainPosition, error) {
	return s.state.Tip(author), nil
}

func (s *BoltStore) Append(author string, content types.Content, previous *types.ChainPosition, sequence uint64) (*types.Entry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.db == nil {
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

	err = s.db.Update(func(tx *bolt.Tx) error {
		authorEntries, err := tx.Bucket(entriesBucket).CreateBucketIfNotExists([]byte(author))
		if err != nil {
			return err
		}
		if err := authorEntries.Put(sequenceKey(sequence), data); err != nil {
			return err
		}
		return tx.Bucket(tipsBucket).Put([]byte(author), data)
	})
	if err != nil {
		return nil, appendError(author, sequence, err)
	}
	if err := s.state.Advance(e); err != nil {
		s.logger.Panicf("Entry %s persisted but does not extend the chain of %s: %v", e.Key, author, err)
	}

	s.logger.Debugf("Appended %s#%d: %s", author, sequence, e.Key)
	return e, nil
}

func (s *BoltStore) History(author string) ([]*types.Entry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.db == nil {
		return nil, types.ErrStopped
	}

	var history []*types.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		authorEntries := tx.Bucket(entriesBucket).Bucket([]byte(author))
		if authorEntries == nil {
			return nil
		}
		return authorEntries.ForEach(func(_, v []byte) error {
			e, err := DecodeEntry(v)
			if err != nil {
				return err
			}
			history = append(history, e)
			return nil
		})
	})
	return history, err
}

func (s *BoltStore) Authors() []string {
	return s.state.Authors()
}

func (s *BoltStore) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func sequenceKey(sequence uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, sequence)
	return key
}
