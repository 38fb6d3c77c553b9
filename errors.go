// farebox
// Copyright (c) 2025 The Farebox Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of farebox.
//
// farebox is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// farebox is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with farebox; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package farebox

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the terminal components
var (
	// ErrNoTarget indicates no card or device was detected within the timeout
	ErrNoTarget = errors.New("no target detected")
	// ErrReaderBusy indicates the radio token could not be acquired in time
	ErrReaderBusy = errors.New("reader busy")
	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timeout")
	// ErrCommunicationFailed indicates the link-level exchange failed
	ErrCommunicationFailed = errors.New("communication failed")
	// ErrStopped indicates the owning worker was stopped mid-operation
	ErrStopped = errors.New("worker stopped")
)

// ErrorType classifies errors for retry decisions
type ErrorType int

const (
	// ErrorTypeTransient indicates a temporary condition worth retrying
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates retrying cannot help
	ErrorTypePermanent
)

// TransportError wraps a link I/O failure. Transport errors are always
// absorbed by the component's own bounded retry policy and never surfaced
// raw to the operator.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("transport %s on %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a transport error with the given classification
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient,
	}
}

// NewTimeoutError creates a transient transport error for a timed-out operation
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTimeout, ErrorTypeTransient)
}

// ProtocolError reports a well-formed exchange that ended with a
// non-success status word or a malformed frame. It triggers the recovery
// ladder before the surrounding retry budget is consumed.
type ProtocolError struct {
	Op string
	SW uint16
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: status word %04X", e.Op, e.SW)
}

// ValidationError reports a semantically wrong response: folio mismatch,
// non-positive amounts, bad field counts. Never retried with the same
// attempt; a fresh folio is drawn instead.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation %s: %s", e.Field, e.Reason)
}

// PersistenceError reports a failed ledger write. Recoverable at the
// device-cycle level since no irreversible action has occurred yet.
type PersistenceError struct {
	Err error
	Op  string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying per the taxonomy
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return true
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var le *PersistenceError
	if errors.As(err, &le) {
		return true
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrCommunicationFailed)
}

// GetErrorType classifies err as transient or permanent
func GetErrorType(err error) ErrorType {
	if IsRetryable(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
