// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
)

const (
	hashAlgorithm = "sha256"
	keyPrefix     = "%"
)

// unsignedEntry fixes the field order of the bytes an entry key is computed over.
type unsignedEntry struct {
	Previous  *string       `json:"previous"`
	Author    string        `json:"author"`
	Sequence  uint64        `json:"sequence"`
	Timestamp int64         `json:"timestamp"`
	Hash      string        `json:"hash"`
	Content   types.Content `json:"content"`
}

// NewEntry builds the entry extending previous (nil for the first entry of a chain).
func NewEntry(author string, content types.Content, previous *types.ChainPosition, sequence uint64, timestamp int64) (*types.Entry, error) {
	e := &types.Entry{
		Author:    author,
		Sequence:  sequence,
		Timestamp: timestamp,
		Content:   content,
		Hash:      hashAlgorithm,
	}
	if previous != nil {
		e.Previous = previous.Key
	}
	key, err := EntryKey(e)
	if err != nil {
		return nil, err
	}
	e.Key = key
	return e, nil
}

// EntryKey computes the content address of an entry from its unsigned fields.
func EntryKey(e *types.Entry) (string, error) {
	u := unsignedEntry{
		Author:    e.Author,
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp,
		Hash:      e.Hash,
		Content:   e.Content,
	}
	if e.Previous != "" {
		u.Previous = &e.Previous
	}
	b, err := json.Marshal(&u)
	if err != nil {
		return "", errors.Wrapf(err, "failed marshaling entry %s#%d", e.Author, e.Sequence)
	}
	sum := sha256.Sum256(b)
	return keyPrefix + base64.StdEncoding.EncodeToString(sum[:]) + "." + hashAlgorithm, nil
}

// VerifyEntry checks that the entry's key matches its content.
func VerifyEntry(e *types.Entry) error {
	key, err := EntryKey(e)
	if err != nil {
		return err
	}
	if key != e.Key {
		return errors.Errorf("entry %s#%d: key mismatch: %s != %s", e.Author, e.Sequence, e.Key, key)
	}
	return nil
}

// DecodeEntry decodes a persisted entry, keeping content numbers as json.Number
// so the entry key can be recomputed from the same bytes.
func DecodeEntry(data []byte) (*types.Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	e := &types.Entry{}
	if err := dec.Decode(e); err != nil {
		return nil, errors.Wrap(err, "failed decoding entry")
	}
	return e, nil
}
