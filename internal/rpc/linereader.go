// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package rpc

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// ErrLineTooLong is returned for a line over the reader's limit. The line is
// consumed, so reading can continue with the next one.
var ErrLineTooLong = errors.New("line too long")

const readBufferSize = 64 * 1024

// LineReader splits a stream into newline-terminated lines of bounded size.
// Trailing bytes without a terminating newline are never returned.
type LineReader struct {
	r   *bufio.Reader
	max int
}

func NewLineReader(r io.Reader, maxLineBytes int) *LineReader {
	return &LineReader{
		r:   bufio.NewReaderSize(r, readBufferSize),
		max: maxLineBytes,
	}
}

// ReadLine returns the next line with surrounding whitespace trimmed. Empty
// lines are returned as empty slices.
func (l *LineReader) ReadLine() ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		frag, err := l.r.ReadSlice('\n')
		switch err {
		case nil:
			if !tooLong {
				line = append(line, frag...)
			}
			if tooLong || len(line)-1 > l.max {
				return nil, ErrLineTooLong
			}
			return bytes.TrimSpace(line), nil
		case bufio.ErrBufferFull:
			if !tooLong {
				line = append(line, frag...)
				if len(line) > l.max {
					tooLong = true
					line = nil
				}
			}
		default:
			return nil, err
		}
	}
}
