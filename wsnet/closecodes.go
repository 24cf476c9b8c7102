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

// Close codes from RFC 6455 §7.4 and subsequent registries.
const (
	CloseNormalClosure      = 1000
	CloseGoingAway          = 1001
	CloseProtocolError      = 1002
	CloseUnsupportedData    = 1003
	CloseNoStatusReceived   = 1005 // never sent on the wire
	CloseAbnormalClosure    = 1006 // never sent on the wire; local only
	CloseInvalidPayload     = 1007
	ClosePolicyViolation    = 1008
	CloseMessageTooBig      = 1009
	CloseMandatoryExtension = 1010 // client-side only
	CloseInternalError      = 1011
	CloseServiceRestart     = 1012
	CloseTryAgainLater      = 1013
	CloseTLSHandshake       = 1015 // never sent on the wire
)

// neverSentOnWire holds the codes RFC 6455 forbids from ever being
// written to the peer; Session.Close rejects them outright.
var neverSentOnWire = map[int]bool{
	1004:                  true,
	CloseNoStatusReceived: true,
	CloseAbnormalClosure:  true,
	CloseTLSHandshake:     true,
}

// ValidCloseCode reports whether code may legally be sent on the wire.
func ValidCloseCode(code int) bool {
	if neverSentOnWire[code] {
		return false
	}
	if code < 1000 || code > 4999 {
		return false
	}
	if code >= 1016 && code < 3000 {
		// Reserved for future use by the protocol itself.
		return false
	}
	return true
}
