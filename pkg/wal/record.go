// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package wal

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type LogRecordType int32

const (
	LogRecordEntry     LogRecordType = 0
	LogRecordCRCAnchor LogRecordType = 1
)

func (t LogRecordType) String() string {
	switch t {
	case LogRecordEntry:
		return "ENTRY"
	case LogRecordCRCAnchor:
		return "CRC_ANCHOR"
	default:
		return fmt.Sprintf("LogRecordType(%d)", int32(t))
	}
}

const (
	recordFieldType protowire.Number = 1
	recordFieldData protowire.Number = 2
)

// LogRecord is a single framed item of the log, wire compatible with
//
//	message LogRecord {
//	    Type  type = 1;
//	    bytes data = 2;
//	}
type LogRecord struct {
	Type LogRecordType
	Data []byte
}

// AppendMarshal appends the protobuf encoding of the record to b.
func (r *LogRecord) AppendMarshal(b []byte) []byte {
	b = protowire.AppendTag(b, recordFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Type))
	if len(r.Data) > 0 {
		b = protowire.AppendTag(b, recordFieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Data)
	}
	return b
}

// Unmarshal decodes a record, skipping unknown fields.
func (r *LogRecord) Unmarshal(b []byte) error {
	*r = LogRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == recordFieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Type = LogRecordType(v)
			b = b[n:]
		case num == recordFieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
