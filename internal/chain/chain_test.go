// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package chain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedClock() time.Time {
	return time.UnixMilli(1700000000000)
}

func TestEntryKey(t *testing.T) {
	content := types.Content{"type": "post", "text": "hi"}

	first, err := NewEntry("@alice", content, nil, 1, 1700000000000)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.Key, "%"))
	assert.True(t, strings.HasSuffix(first.Key, ".sha256"))
	assert.Empty(t, first.Previous)
	assert.Equal(t, "sha256", first.Hash)
	assert.NoError(t, VerifyEntry(first))

	again, err := NewEntry("@alice", types.Content{"text": "hi", "type": "post"}, nil, 1, 1700000000000)
	require.NoError(t, err)
	assert.Equal(t, first.Key, again.Key)

	second, err := NewEntry("@alice", content, first.Position(), 2, 1700000000000)
	require.NoError(t, err)
	assert.Equal(t, first.Key, second.Previous)
	assert.NotEqual(t, first.Key, second.Key)

	second.Content = types.Content{"type": "post", "text": "tampered"}
	assert.Contains(t, VerifyEntry(second).Error(), "key mismatch")
}

func TestDecodeEntryKeepsNumbers(t *testing.T) {
	content := types.Content{"type": "post", "n": json.Number("12345678901234567890")}
	e, err := NewEntry("@alice", content, nil, 1, 1)
	require.NoError(t, err)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	decoded, err := DecodeEntry(data)
	require.NoError(t, err)
	assert.NoError(t, VerifyEntry(decoded))
	assert.Equal(t, e.Key, decoded.Key)
}

func TestState(t *testing.T) {
	s := NewState()
	assert.Nil(t, s.Tip("@alice"))

	assert.NoError(t, s.Check("@alice", nil, 1))
	err := s.Check("@alice", nil, 2)
	assert.Equal(t, types.ErrSequenceConflict, errors.Cause(err))

	e1, err := NewEntry("@alice", types.Content{"type": "post"}, nil, 1, 1)
	require.NoError(t, err)
	require.NoError(t, s.Advance(e1))
	assert.Equal(t, e1.Position(), s.Tip("@alice"))

	err = s.Check("@alice", nil, 2)
	assert.Equal(t, types.ErrSequenceConflict, errors.Cause(err))
	err = s.Check("@alice", e1.Position(), 3)
	assert.Equal(t, types.ErrSequenceConflict, errors.Cause(err))
	err = s.Check("@alice", &types.ChainPosition{Author: "@alice", Key: "%other", Sequence: 1}, 2)
	assert.Equal(t, types.ErrSequenceConflict, errors.Cause(err))
	assert.NoError(t, s.Check("@alice", e1.Position(), 2))

	// replaying the same entry does not extend the tip
	assert.Error(t, s.Advance(e1))

	e2, err := NewEntry("@bob", types.Content{"type": "post"}, nil, 1, 1)
	require.NoError(t, err)
	require.NoError(t, s.Advance(e2))
	assert.Equal(t, []string{"@alice", "@bob"}, s.Authors())
}

type storeFactory func(t *testing.T, logger api.Logger, path string) Store

var factories = map[string]storeFactory{
	KindWAL: func(t *testing.T, logger api.Logger, path string) Store {
		s, err := OpenWALStore(logger, path, fixedClock)
		require.NoError(t, err)
		return s
	},
	KindBolt: func(t *testing.T, logger api.Logger, path string) Store {
		s, err := OpenBoltStore(logger, filepath.Join(path, "chain.db"), fixedClock)
		require.NoError(t, err)
		return s
	},
}

func TestStores(t *testing.T) {
	basicLog, err := zap.NewDevelopment()
	require.NoError(t, err)
	logger := basicLog.Sugar()

	for kind, open := range factories {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "store")

			s := open(t, logger, path)

			tip, err := s.GetLatest("@alice")
			require.NoError(t, err)
			assert.Nil(t, tip)

			var previous *types.ChainPosition
			for seq := uint64(1); seq <= 5; seq++ {
				e, err := s.Append("@alice", types.Content{"type": "post", "seq": json.Number("1")}, previous, seq)
				require.NoError(t, err)
				assert.Equal(t, seq, e.Sequence)
				assert.Equal(t, fixedClock().UnixMilli(), e.Timestamp)
				previous = e.Position()
			}
			_, err = s.Append("@bob", types.Content{"type": "vote"}, nil, 1)
			require.NoError(t, err)

			// stale previous
			_, err = s.Append("@alice", types.Content{"type": "post"}, nil, 1)
			require.Error(t, err)
			assert.True(t, types.IsAppendError(err))
			assert.Equal(t, types.ErrSequenceConflict, errors.Cause(errors.Cause(err)))

			tip, err = s.GetLatest("@alice")
			require.NoError(t, err)
			assert.Equal(t, previous, tip)

			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			_, err = s.Append("@alice", types.Content{"type": "post"}, tip, 6)
			assert.True(t, types.IsAppendError(err))

			// reopen rebuilds the chain state
			s = open(t, logger, path)
			defer s.Close()

			tip, err = s.GetLatest("@alice")
			require.NoError(t, err)
			assert.Equal(t, previous, tip)
			assert.Equal(t, []string{"@alice", "@bob"}, s.Authors())

			history, err := s.History("@alice")
			require.NoError(t, err)
			require.Len(t, history, 5)
			for i, e := range history {
				assert.Equal(t, uint64(i+1), e.Sequence)
				assert.NoError(t, VerifyEntry(e))
				if i > 0 {
					assert.Equal(t, history[i-1].Key, e.Previous)
				}
			}

			e, err := s.Append("@alice", types.Content{"type": "post"}, tip, 6)
			require.NoError(t, err)
			assert.Equal(t, tip.Key, e.Previous)
		})
	}
}

func TestWALStoreRepairsTornRecord(t *testing.T) {
	basicLog, err := zap.NewDevelopment()
	require.NoError(t, err)
	logger := basicLog.Sugar()

	dir := filepath.Join(t.TempDir(), "store")
	s, err := OpenWALStore(logger, dir, nil)
	require.NoError(t, err)

	var previous *types.ChainPosition
	for seq := uint64(1); seq <= 3; seq++ {
		e, err := s.Append("@alice", types.Content{"type": "post"}, previous, seq)
		require.NoError(t, err)
		previous = e.Position()
	}
	require.NoError(t, s.Close())

	names, err := filepath.Glob(filepath.Join(dir, "*.wal"))
	require.NoError(t, err)
	require.NotEmpty(t, names)
	last := names[len(names)-1]
	info, err := os.Stat(last)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(last, info.Size()-1))

	s, err = OpenWALStore(logger, dir, nil)
	require.NoError(t, err)
	defer s.Close()

	tip, err := s.GetLatest("@alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tip.Sequence)
}

func TestOpen(t *testing.T) {
	logger := zap.NewNop().Sugar()
	dir := t.TempDir()

	s, err := Open(logger, KindBolt, filepath.Join(dir, "bolt", "chain.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(logger, "", filepath.Join(dir, "wal"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(logger, "leveldb", dir)
	assert.EqualError(t, err, "unknown store kind: leveldb")
}
