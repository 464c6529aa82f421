// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
)

type LogRecordReader struct {
	fileName string
	logger   api.Logger
	logFile  *os.File
	crc      uint32
	offset   int64
}

func NewLogRecordReader(logger api.Logger, fileName string) (*LogRecordReader, error) {
	if logger == nil {
		return nil, errors.New("logger is nil")
	}

	r := &LogRecordReader{
		fileName: fileName,
		logger:   logger,
	}

	var err error
	r.logFile, err = os.Open(fileName)
	if err != nil {
		return nil, err
	}

	//read the CRC-Anchor, the first record of every file
	recLen, crc, err := r.readHeader()
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	padSize := getPadSize(int(recLen))
	payload, err := r.readPayload(int(recLen) + padSize)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	var record = &LogRecord{}
	err = record.Unmarshal(payload[:recLen])
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	if record.Type != LogRecordCRCAnchor {
		_ = r.Close()
		return nil, fmt.Errorf("failed reading CRC-Anchor from log file: %s", fileName)
	}
	r.crc = crc
	r.offset = int64(recordHeaderSize + int(recLen) + padSize)

	r.logger.Debugf("Initialized reader: CRC-Anchor: %08X, file: %s", r.crc, r.fileName)

	return r, nil
}

func (r *LogRecordReader) Close() error {
	var err error
	if r.logFile != nil {
		err = r.logFile.Close()
	}
	r.logFile = nil
	return err
}

func (r *LogRecordReader) CRC() uint32 {
	return r.crc
}

// Offset is the file offset right after the last record read successfully.
func (r *LogRecordReader) Offset() int64 {
	return r.offset
}

func (r *LogRecordReader) Read() (*LogRecord, error) {
	recLen, crc, err := r.readHeader()
	if err != nil {
		return nil, err
	}
	padSize := getPadSize(int(recLen))
	payload, err := r.readPayload(int(recLen) + padSize)
	if err != nil {
		return nil, err
	}
	var record = &LogRecord{}
	err = record.Unmarshal(payload[:recLen])
	if err != nil {
		return nil, err
	}

	switch record.Type {
	case LogRecordEntry:
		if !verifyCRC(r.crc, crc, payload) {
			return nil, ErrCRC
		}
		fallthrough
	case LogRecordCRCAnchor:
		r.crc = crc
	default:
		return nil, fmt.Errorf("unexpected LogRecord type: %v", record.Type)
	}

	r.offset += int64(recordHeaderSize + len(payload))
	return record, nil
}

func (r *LogRecordReader) readHeader() (length, crc uint32, err error) {
	buff := make([]byte, recordHeaderSize)
	_, err = io.ReadFull(r.logFile, buff)
	if err != nil {
		return 0, 0, err
	}

	header := binary.LittleEndian.Uint64(buff)
	length = uint32(header & recordLengthMask)
	crc = uint32((header & recordCRCMask) >> 32)

	return length, crc, nil
}

func (r *LogRecordReader) readPayload(len int) (payload []byte, err error) {
	buff := make([]byte, len)
	_, err = io.ReadFull(r.logFile, buff)
	if err == io.EOF {
		// a header without its payload is a torn write
		return nil, io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, err
	}
	return buff, nil
}

func verifyCRC(prevCRC, expectedCRC uint32, data []byte) bool {
	dataCRC := crc32.Update(prevCRC, crcTable, data)
	return dataCRC == expectedCRC
}
