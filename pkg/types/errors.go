// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package types

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConsensusTimeout completes a pending request that never observed its commit.
	ErrConsensusTimeout = errors.New("consensus timeout")
	// ErrSequenceConflict is returned by a store when an append does not extend the author's tip.
	ErrSequenceConflict = errors.New("sequence conflict")
	// ErrPendingFull is returned when the pending request table is at capacity.
	ErrPendingFull = errors.New("pending request table full")
	// ErrStopped is returned by operations on a stopped component.
	ErrStopped = errors.New("stopped")
)

// ValidationError rejects local content before it reaches consensus.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid content: %s", e.Reason)
}

// TransportError reports a failure on the outbound submission socket.
type TransportError struct {
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to %s: %v", e.Addr, e.Err)
}

func (e *TransportError) Cause() error { return e.Err }

// DecodeError reports a transaction or block that has no recognizable shape.
type DecodeError struct {
	Reason string
	Raw    []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s", e.Reason)
}

// AppendError reports that the log store rejected or failed an append.
type AppendError struct {
	Author   string
	Sequence uint64
	Err      error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append %s#%d: %v", e.Author, e.Sequence, e.Err)
}

func (e *AppendError) Cause() error { return e.Err }

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDecodeError reports whether err is, or wraps, a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsAppendError reports whether err is, or wraps, an AppendError.
func IsAppendError(err error) bool {
	var ae *AppendError
	return errors.As(err, &ae)
}

// IsTimeout reports whether err is a consensus timeout.
func IsTimeout(err error) bool {
	return errors.Cause(err) == ErrConsensusTimeout
}
