// Copyright 2020 The NATS Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpnet

import (
	"github.com/pkg/errors"
)

// ErrorKind classifies a failure without tying it to a single Go error
// value, so callers can branch on Kind() after errors.Cause unwraps any
// github.com/pkg/errors wrapping added along the way.
type ErrorKind int

const (
	KindInvalidPrefix ErrorKind = iota
	KindPrefixInUse
	KindHeaderTooLarge
	KindBadRequest
	KindLengthRequired
	KindNotImplementedTE
	KindAuthRequired
	KindForbidden
	KindNotFound
	KindServiceUnavailable
	KindReservedHeader
	KindCanceled
	KindTimeout
	KindTransportClosed
)

// statusByKind maps an HTTP-level kind to the status code the connection
// state machine writes to the wire. Kinds with no HTTP representation
// (Canceled, Timeout, TransportClosed) are local-only and never sent.
var statusByKind = map[ErrorKind]int{
	KindHeaderTooLarge:     431,
	KindBadRequest:         400,
	KindLengthRequired:     411,
	KindNotImplementedTE:   501,
	KindAuthRequired:       401,
	KindForbidden:          403,
	KindNotFound:           404,
	KindServiceUnavailable: 503,
}

// Error is the error type returned by every exported operation in this
// package that can fail for a classifiable reason.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind ErrorKind, msg string) error {
	return errors.WithStack(&Error{Kind: kind, Msg: msg})
}

// Status returns the HTTP status code this error should be reported as,
// and whether one applies at all.
func (e *Error) Status() (int, bool) {
	s, ok := statusByKind[e.Kind]
	return s, ok
}

// KindOf unwraps err (following github.com/pkg/errors causes) to find the
// classified Kind, if any.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		cause := errors.Cause(err)
		if cause == err {
			break
		}
		err = cause
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}

var (
	ErrInvalidPrefix  = newError(KindInvalidPrefix, "invalid URI prefix")
	ErrPrefixInUse    = newError(KindPrefixInUse, "prefix already bound to a different listener")
	ErrReservedHeader = newError(KindReservedHeader, "header is reserved for the connection state machine")
	ErrHeaderTooLarge = newError(KindHeaderTooLarge, "headers too long")
)
