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

package wsnet

import "github.com/pkg/errors"

// ErrorKind classifies WebSocket-level failures, mirroring httpnet's
// Error/Kind pattern.
type ErrorKind int

const (
	KindHandshakeRejected ErrorKind = iota
	KindProtocolViolation
	KindInvalidPayload
	KindMessageTooBig
	KindExtensionRequired
	KindInternal
	KindCanceled
	KindTimeout
	KindTransportClosed
	KindSessionClosed
)

// closeCodeByKind maps a Kind to the close code written on the wire, for
// kinds that produce one at all.
var closeCodeByKind = map[ErrorKind]int{
	KindProtocolViolation: CloseProtocolError,
	KindInvalidPayload:    CloseInvalidPayload,
	KindMessageTooBig:     CloseMessageTooBig,
	KindExtensionRequired: CloseMandatoryExtension,
	KindInternal:          CloseInternalError,
}

// Error is the error type returned by exported wsnet operations.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind ErrorKind, msg string) error {
	return errors.WithStack(&Error{Kind: kind, Msg: msg})
}

// CloseCode returns the close code this error implies, and whether one
// applies (Canceled/Timeout/TransportClosed are local-only and never
// produce a Close frame).
func (e *Error) CloseCode() (int, bool) {
	c, ok := closeCodeByKind[e.Kind]
	return c, ok
}

// KindOf unwraps err looking for a classified *Error.
func KindOf(err error) (ErrorKind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		cause := errors.Cause(err)
		if cause == err {
			break
		}
		err = cause
	}
	return 0, false
}

var ErrSessionClosed = newError(KindSessionClosed, "session is closed")
