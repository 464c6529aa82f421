// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

const TypeCommitBlock EventType = "CommitBlock"

var decoders = map[EventType]func([]byte) (interface{}, error){
	TypeCommitBlock: decodeCommitBlock,
}

// RegisterDecoder makes an event type decodable by RecordedEvent.Decode.
func RegisterDecoder(et EventType, f func([]byte) (interface{}, error)) {
	decoders[et] = f
}

// RecordedEvent is one line of a recording: the event type followed by its JSON content.
type RecordedEvent struct {
	Type    EventType
	Content []byte
}

func NewRecordedEvent(eventType EventType, o interface{}) (RecordedEvent, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return RecordedEvent{}, fmt.Errorf("failed marshaling %s: %v", eventType, err)
	}
	return RecordedEvent{
		Content: raw,
		Type:    eventType,
	}, nil
}

func (re RecordedEvent) Decode() (interface{}, error) {
	decode, exists := decoders[re.Type]
	if !exists {
		return nil, fmt.Errorf("no decoder registered for type %s", re.Type)
	}
	return decode(re.Content)
}

func (re RecordedEvent) String() string {
	return fmt.Sprintf("%s %s", re.Type, string(re.Content))
}

func (re *RecordedEvent) FromString(s string) error {
	sep := strings.Index(s, " ")
	if sep == -1 {
		return fmt.Errorf("no space detected in record: %s", s)
	}

	re.Type = EventType(s[:sep])
	re.Content = []byte(s[sep+1:])
	return nil
}

func decodeCommitBlock(in []byte) (interface{}, error) {
	var block CommitBlock
	if err := json.Unmarshal(in, &block); err != nil {
		return nil, fmt.Errorf("failed unmarshaling commit block: %v", err)
	}
	return &block, nil
}
