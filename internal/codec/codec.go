// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

// Package codec converts between envelopes and the transaction encoding carried
// through the consensus engine. Decoding accepts every transaction shape
// historical producers have used and normalizes it to a single envelope.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	keyRequestID       = "requestId"
	keyLegacyRequestID = "msgId"
	keyPayload         = "payload"
	keyLegacyPayload   = "content"
	keyAuthor          = "author"
	keyWrapper         = "message"

	maxRawInError = 256
)

// Shape is the wire shape a transaction was decoded from.
type Shape int

const (
	// ShapeCanonical is {requestId, payload, author}.
	ShapeCanonical Shape = iota
	// ShapeBare is a payload object carrying its own type discriminator.
	ShapeBare
	// ShapeWrapped is either of the above nested under a wrapper key.
	ShapeWrapped
)

func (s Shape) String() string {
	switch s {
	case ShapeCanonical:
		return "canonical"
	case ShapeBare:
		return "bare"
	case ShapeWrapped:
		return "wrapped"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// Encode produces the transaction for an envelope: base64 of its JSON encoding.
func Encode(env *types.Envelope) (string, error) {
	if env == nil {
		return "", errors.New("nil envelope")
	}
	if env.Payload.Type() == "" {
		return "", &types.ValidationError{Reason: "missing type discriminator"}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", errors.Wrap(err, "failed marshaling envelope")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeTransaction decodes one element of a block's transaction list: a JSON
// string holding base64 of a transaction in any accepted shape. Transactions
// without an author are attributed to self.
func DecodeTransaction(tx json.RawMessage, self string) (*types.Envelope, Shape, error) {
	var encoded string
	if err := json.Unmarshal(tx, &encoded); err != nil {
		return nil, 0, newDecodeError("transaction is not a string", tx)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, 0, newDecodeError(fmt.Sprintf("transaction is not base64: %v", err), tx)
	}
	return Decode(data, self)
}

// Decode normalizes a transaction to an envelope. Shapes are attempted in a
// fixed priority: canonical, then bare, then wrapped. Anything else, and any
// payload without a type discriminator, is a *types.DecodeError.
func Decode(data []byte, self string) (*types.Envelope, Shape, error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, newDecodeError("invalid JSON", data)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, 0, newDecodeError("transaction is not an object", data)
	}

	if env, ok := decodeCanonical(root); ok {
		return finish(env, ShapeCanonical, data)
	}

	if isTyped(root) {
		env := &envelope{payload: root, author: self}
		return finish(env, ShapeBare, data)
	}

	if inner := root.Get(keyWrapper); inner.IsObject() {
		env := &envelope{
			requestID: stringField(inner, keyRequestID, keyLegacyRequestID),
			payload:   inner,
			author:    stringField(inner, keyAuthor),
		}
		if p := objectField(inner, keyPayload, keyLegacyPayload); p.Exists() {
			env.payload = p
		}
		if env.author == "" {
			env.author = self
		}
		return finish(env, ShapeWrapped, data)
	}

	return nil, 0, newDecodeError("unrecognized transaction shape", data)
}

type envelope struct {
	requestID string
	payload   gjson.Result
	author    string
}

func decodeCanonical(root gjson.Result) (*envelope, bool) {
	payload := objectField(root, keyPayload, keyLegacyPayload)
	author := stringField(root, keyAuthor)
	if !payload.Exists() || author == "" {
		return nil, false
	}
	return &envelope{
		requestID: stringField(root, keyRequestID, keyLegacyRequestID),
		payload:   payload,
		author:    author,
	}, true
}

func finish(env *envelope, shape Shape, raw []byte) (*types.Envelope, Shape, error) {
	if !isTyped(env.payload) {
		return nil, shape, newDecodeError("payload has no type discriminator", raw)
	}
	content, err := toContent(env.payload)
	if err != nil {
		return nil, shape, newDecodeError(err.Error(), raw)
	}
	return &types.Envelope{
		RequestID: env.requestID,
		Payload:   content,
		Author:    env.author,
	}, shape, nil
}

func isTyped(obj gjson.Result) bool {
	t := obj.Get(types.TypeField)
	return t.Type == gjson.String && t.Str != ""
}

func stringField(obj gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := obj.Get(k); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func objectField(obj gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := obj.Get(k); v.IsObject() {
			return v
		}
	}
	return gjson.Result{}
}

// toContent keeps numbers as json.Number so re-encoding reproduces the original literals.
func toContent(obj gjson.Result) (types.Content, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(obj.Raw)))
	dec.UseNumber()
	var content types.Content
	if err := dec.Decode(&content); err != nil {
		return nil, errors.Wrap(err, "failed decoding payload")
	}
	return content, nil
}

func newDecodeError(reason string, raw []byte) *types.DecodeError {
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError]
	}
	return &types.DecodeError{Reason: reason, Raw: append([]byte(nil), raw...)}
}
