// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
)

var padTable [][]byte

func init() {
	padTable = make([][]byte, 8)
	for i := 0; i < 8; i++ {
		padTable[i] = make([]byte, i)
	}
}

func dirEmpty(dirPath string) bool {
	names, err := dirReadWalNames(dirPath)
	if err != nil {
		return true
	}

	return len(names) == 0
}

func dirCreate(dirPath string) error {
	dirFile, err := os.Open(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			err = os.MkdirAll(dirPath, walDirPermPrivateRWX)
		}
		return err
	}
	defer dirFile.Close()
	return err
}

func dirReadWalNames(dirPath string) ([]string, error) {
	dirFile, err := os.Open(dirPath)
	if err != nil {
		return nil, err
	}
	defer dirFile.Close()

	names, err := dirFile.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	walNames := make([]string, 0)
	for _, name := range names {
		if strings.HasSuffix(name, walFileSuffix) {
			walNames = append(walNames, name)
		}
	}
	sort.Strings(walNames)

	return walNames, nil
}

// Exists reports whether dirPath holds at least one wal file.
func Exists(dirPath string) bool {
	return !dirEmpty(dirPath)
}

func parseWalFileName(fileName string) (uint64, error) {
	hexPart := strings.TrimSuffix(fileName, walFileSuffix)
	if len(hexPart) != 16 || hexPart == fileName {
		return 0, fmt.Errorf("wal: malformed file name: %s", fileName)
	}
	index, err := strconv.ParseUint(hexPart, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("wal: malformed file name: %s; error: %s", fileName, err)
	}
	return index, nil
}

// checkWalFiles verifies that the files form a continuous sequence of indexes and that
// every file starts with a CRC-Anchor.
func checkWalFiles(logger api.Logger, dirName string, walNames []string) ([]uint64, error) {
	sort.Strings(walNames)

	var indexes = make([]uint64, 0, len(walNames))
	for i, name := range walNames {
		index, err := parseWalFileName(name)
		if err != nil {
			logger.Errorf("wal: failed to parse file name: %s; error: %s", name, err)
			return nil, err
		}

		if i > 0 && index != indexes[i-1]+1 {
			return nil, fmt.Errorf("wal: files not in sequence: %s follows index %d", name, indexes[i-1])
		}

		r, err := NewLogRecordReader(logger, filepath.Join(dirName, name))
		if err != nil {
			logger.Errorf("wal: failed to create reader for file: %s; error: %s", name, err)
			return nil, err
		}
		_ = r.Close()

		indexes = append(indexes, index)
	}

	return indexes, nil
}

func syncDir(dirPath string) error {
	dirFile, err := os.Open(dirPath)
	if err != nil {
		return err
	}
	defer dirFile.Close()
	return dirFile.Sync()
}

func getPadSize(recordLength int) int {
	return (8 - recordLength%8) % 8
}

func getPadBytes(recordLength int) (int, []byte) {
	i := getPadSize(recordLength)
	return i, padTable[i]
}
