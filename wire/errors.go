// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
)

// Code classifies a protocol or engine failure. Callers use IsCode to
// branch on the class and Error.Message for display:
//
//	if wire.IsCode(err, wire.CodeTimeout) { ... }
type Code string

const (
	// CodeNotFound: the authority does not know the session id.
	CodeNotFound Code = "not_found"

	// CodeUnauthorized: the caller is not authenticated or not a
	// member of the session.
	CodeUnauthorized Code = "unauthorized"

	// CodeRequestRejected: authority-side validation failed; Message
	// carries the authority's reason verbatim.
	CodeRequestRejected Code = "request_rejected"

	// CodeTimeout: no acknowledgement arrived within the request
	// bound.
	CodeTimeout Code = "timeout"

	// CodeInvalidArgument: a client-side precondition failed before
	// any network traffic.
	CodeInvalidArgument Code = "invalid_argument"

	// CodeNoActiveSession: the operation needs a current session and
	// none is set.
	CodeNoActiveSession Code = "no_active_session"

	// CodeTransportError: a connection-level failure.
	CodeTransportError Code = "transport_error"
)

// Error is a classified protocol failure. Message is human-readable
// and suitable for direct display.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds a classified error.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is (or wraps) a *Error with the given
// code.
func IsCode(err error, code Code) bool {
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr.Code == code
	}
	return false
}
