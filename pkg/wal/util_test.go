// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWALUtil(t *testing.T) {
	basicLog, err := zap.NewDevelopment()
	assert.NoError(t, err)

	logger := basicLog.Sugar()

	t.Run("read wal names", func(t *testing.T) {
		testDir, err := os.MkdirTemp("", "unittest")
		assert.NoErrorf(t, err, "generate temporary test dir")
		defer os.RemoveAll(testDir)

		names, err := dirReadWalNames(testDir)
		assert.NoError(t, err)
		assert.Equal(t, 0, len(names))
		assert.False(t, Exists(testDir))

		make8LogFiles(t, logger, testDir)
		assert.True(t, Exists(testDir))

		names, err = dirReadWalNames(testDir)
		assert.NoError(t, err)
		nameSet := arrayToSet(names)
		assert.Equal(t, 8, len(nameSet))
		for i := 1; i <= 8; i++ {
			fn := fmt.Sprintf(walFileTemplate, i)
			assert.True(t, nameSet[fn])
		}

		fnOld := filepath.Join(testDir, fmt.Sprintf(walFileTemplate, 1))
		fnNew := filepath.Join(testDir, fmt.Sprintf(walFileTemplate, 1)+".copy")
		err = os.Rename(fnOld, fnNew)
		assert.NoError(t, err)

		names, err = dirReadWalNames(testDir)
		assert.NoError(t, err)
		nameSet = arrayToSet(names)
		assert.Equal(t, 7, len(nameSet))
		for i := 2; i <= 8; i++ {
			fn := fmt.Sprintf(walFileTemplate, i)
			assert.True(t, nameSet[fn])
		}

		names, err = dirReadWalNames(testDir + ".does-not-exist")
		assert.Contains(t, err.Error(), "no such file or directory")
		assert.Nil(t, names)
	})

	t.Run("parse wal names", func(t *testing.T) {
		index, err := parseWalFileName("00000000000000ff.wal")
		assert.NoError(t, err)
		assert.Equal(t, uint64(255), index)

		_, err = parseWalFileName("ff.wal")
		assert.Contains(t, err.Error(), "wal: malformed file name")
		_, err = parseWalFileName("oops-00000000000000.wal")
		assert.Contains(t, err.Error(), "wal: malformed file name")
		_, err = parseWalFileName("000000000000000g.wal")
		assert.Contains(t, err.Error(), "wal: malformed file name")
	})

	t.Run("check wal names", func(t *testing.T) {
		testDir, err := os.MkdirTemp("", "unittest")
		assert.NoErrorf(t, err, "generate temporary test dir")
		defer os.RemoveAll(testDir)

		indexes, err := checkWalFiles(logger, testDir, []string{})
		assert.NoError(t, err)
		assert.Equal(t, 0, len(indexes))

		make8LogFiles(t, logger, testDir)

		// All good
		names, err := dirReadWalNames(testDir)
		assert.NoError(t, err)
		indexes, err = checkWalFiles(logger, testDir, names)
		assert.NoError(t, err)
		assert.Equal(t, 8, len(indexes))
		for i := 1; i <= 8; i++ {
			assert.Equal(t, uint64(i), indexes[i-1])
		}

		// Dir does not exist
		indexes, err = checkWalFiles(logger, testDir+".does-not-exist", names)
		assert.Contains(t, err.Error(), "no such file or directory")
		assert.Nil(t, indexes)

		// Gap in sequence
		fn4 := filepath.Join(testDir, fmt.Sprintf(walFileTemplate, 4))
		err = os.Remove(fn4)
		assert.NoError(t, err)
		names, err = dirReadWalNames(testDir)
		assert.NoError(t, err)
		_, err = checkWalFiles(logger, testDir, names)
		assert.Contains(t, err.Error(), "wal: files not in sequence")

		// File without anchor
		for i := 1; i <= 3; i++ {
			fn := filepath.Join(testDir, fmt.Sprintf(walFileTemplate, i))
			err = os.Remove(fn)
			assert.NoError(t, err)
		}
		f, err := os.Create(filepath.Join(testDir, fmt.Sprintf(walFileTemplate, 9)))
		assert.NoError(t, err)
		err = f.Close()
		assert.NoError(t, err)

		names, err = dirReadWalNames(testDir)
		assert.NoError(t, err)
		_, err = checkWalFiles(logger, testDir, names)
		assert.EqualError(t, err, io.EOF.Error())
	})

	t.Run("repair torn record", func(t *testing.T) {
		testDir, err := os.MkdirTemp("", "unittest")
		assert.NoErrorf(t, err, "generate temporary test dir")
		defer os.RemoveAll(testDir)

		make8LogFiles(t, logger, testDir)
		names, err := dirReadWalNames(testDir)
		assert.NoError(t, err)

		// repair a good log
		assert.NoError(t, Repair(logger, testDir))

		lastFile := filepath.Join(testDir, names[len(names)-1])
		f, err := os.OpenFile(lastFile, os.O_RDWR, walFilePermPrivateRW)
		assert.NoError(t, err)
		offset, err := f.Seek(-1, io.SeekEnd)
		assert.NoError(t, err)
		err = f.Truncate(offset)
		assert.NoError(t, err)
		err = f.Close()
		assert.NoError(t, err)

		wal, err := Open(logger, testDir, nil)
		assert.NoError(t, err)
		_, err = wal.ReadAll()
		assert.EqualError(t, err, io.ErrUnexpectedEOF.Error())
		assert.NoError(t, wal.Close())

		assert.NoError(t, Repair(logger, testDir))

		wal, err = Open(logger, testDir, nil)
		assert.NoError(t, err)
		items, err := wal.ReadAll()
		assert.NoError(t, err)
		assert.Len(t, items, 29)
		assert.NoError(t, wal.Close())
	})

	t.Run("repair tail", func(t *testing.T) {
		testDir, err := os.MkdirTemp("", "unittest")
		assert.NoErrorf(t, err, "generate temporary test dir")
		defer os.RemoveAll(testDir)

		make8LogFiles(t, logger, testDir)
		names, err := dirReadWalNames(testDir)
		assert.NoError(t, err)

		lastFile := filepath.Join(testDir, names[len(names)-1])
		f, err := os.OpenFile(lastFile, os.O_RDWR, walFilePermPrivateRW)
		assert.NoError(t, err)
		_, err = f.Seek(0, io.SeekEnd)
		assert.NoError(t, err)
		_, err = f.Write(make([]byte, 64))
		assert.NoError(t, err)
		err = f.Close()
		assert.NoError(t, err)

		assert.NoError(t, Repair(logger, testDir))

		wal, err := Open(logger, testDir, nil)
		assert.NoError(t, err)
		items, err := wal.ReadAll()
		assert.NoError(t, err)
		assert.Len(t, items, 30)
		assert.NoError(t, wal.Close())
	})

	t.Run("repair bad anchor", func(t *testing.T) {
		testDir, err := os.MkdirTemp("", "unittest")
		assert.NoErrorf(t, err, "generate temporary test dir")
		defer os.RemoveAll(testDir)

		make8LogFiles(t, logger, testDir)
		names, err := dirReadWalNames(testDir)
		assert.NoError(t, err)

		lastFile := filepath.Join(testDir, names[len(names)-1])
		f, err := os.OpenFile(lastFile, os.O_RDWR, walFilePermPrivateRW)
		assert.NoError(t, err)
		_, err = f.Seek(8, io.SeekStart)
		assert.NoError(t, err)
		_, err = f.Write([]byte{0x08, 0x00})
		assert.NoError(t, err)
		err = f.Close()
		assert.NoError(t, err)

		_, err = Open(logger, testDir, nil)
		assert.Contains(t, err.Error(), "failed reading CRC-Anchor from log file:")

		assert.NoError(t, Repair(logger, testDir))
		names, err = dirReadWalNames(testDir)
		assert.NoError(t, err)
		assert.Len(t, names, 7)

		wal, err := Open(logger, testDir, nil)
		assert.NoError(t, err)
		items, err := wal.ReadAll()
		assert.NoError(t, err)
		assert.Len(t, items, 28)
		assert.NoError(t, wal.Close())
	})
}

func arrayToSet(array []string) map[string]bool {
	set := make(map[string]bool)
	for _, n := range array {
		set[n] = true
	}

	return set
}

// create 8 wal files, 0000000000000001.wal - 0000000000000008.wal, holding 30 items.
func make8LogFiles(t *testing.T, logger api.Logger, testDir string) {
	wal, err := Create(logger, testDir, &Options{FileSizeBytes: 2048, BufferSizeBytes: 1024})
	assert.NoError(t, err)
	assert.NotNil(t, wal)

	if wal == nil {
		return
	}

	for i := 0; i < 30; i++ {
		data := make([]byte, 512)
		data[0] = byte(i)
		err = wal.Append(data)
		assert.NoError(t, err)
	}

	_ = wal.Close()
}
