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

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dumpOnFail renders f with go-spew so a failing assertion shows the full
// decoded struct instead of Go's default %+v truncation.
func dumpOnFail(t *testing.T, f Frame) string {
	t.Helper()
	return spew.Sdump(f)
}

func TestEncodeDecodeRoundTripServerFrame(t *testing.T) {
	f := Frame{Fin: true, Opcode: OpText, Masked: false, Payload: []byte("Hello")}
	wire := Encode(f)
	dec := NewDecoder(bytes.NewReader(wire), RoleClient, false)
	got, err := dec.ReadFrame()
	require.NoError(t, err, dumpOnFail(t, f))
	assert.Equal(t, f.Fin, got.Fin)
	assert.Equal(t, f.Opcode, got.Opcode)
	assert.False(t, got.Masked)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestEncodeDecodeRoundTripClientFrame(t *testing.T) {
	f := Frame{Fin: true, Opcode: OpBinary, Masked: true, Payload: []byte{1, 2, 3, 4}}
	wire := Encode(f)
	dec := NewDecoder(bytes.NewReader(wire), RoleServer, false)
	got, err := dec.ReadFrame()
	require.NoError(t, err, dumpOnFail(t, f))
	assert.True(t, got.Masked)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestExtendedLengthUsesShortestForm(t *testing.T) {
	hdr, _ := EncodeHeader(true, false, OpBinary, false, 125)
	assert.Len(t, hdr, 2)

	hdr, _ = EncodeHeader(true, false, OpBinary, false, 126)
	assert.Len(t, hdr, 4)
	assert.Equal(t, byte(126), hdr[1])

	hdr, _ = EncodeHeader(true, false, OpBinary, false, 65536)
	assert.Len(t, hdr, 10)
	assert.Equal(t, byte(127), hdr[1])
}

func TestDecoderRejectsReservedBits(t *testing.T) {
	f := Frame{Fin: true, Rsv2: true, Opcode: OpText, Payload: []byte("x")}
	wire := Encode(f)
	dec := NewDecoder(bytes.NewReader(wire), RoleClient, false)
	_, err := dec.ReadFrame()
	kind, ok := KindOf(err)
	require.True(t, ok, dumpOnFail(t, f))
	assert.Equal(t, KindProtocolViolation, kind)
}

// Without a negotiated extension, RSV1 on a data frame must be rejected
// rather than delivered as an uncompressed message.
func TestDecoderRejectsRsv1WithoutExtension(t *testing.T) {
	f := Frame{Fin: true, Rsv1: true, Opcode: OpText, Payload: []byte("x")}
	wire := Encode(f)
	dec := NewDecoder(bytes.NewReader(wire), RoleClient, false)
	_, err := dec.ReadFrame()
	kind, ok := KindOf(err)
	require.True(t, ok, dumpOnFail(t, f))
	assert.Equal(t, KindProtocolViolation, kind)
}

func TestDecoderAllowsRsv1WhenNegotiated(t *testing.T) {
	f := Frame{Fin: true, Rsv1: true, Opcode: OpText, Payload: []byte("x")}
	wire := Encode(f)
	dec := NewDecoder(bytes.NewReader(wire), RoleClient, true)
	got, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.True(t, got.Rsv1)
}

func TestDecoderRejectsRsv1OnControlFrame(t *testing.T) {
	f := Frame{Fin: true, Rsv1: true, Opcode: OpPing}
	wire := Encode(f)
	dec := NewDecoder(bytes.NewReader(wire), RoleClient, true)
	_, err := dec.ReadFrame()
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolViolation, kind)
}

func TestDecoderRejectsUnknownOpcode(t *testing.T) {
	wire := []byte{0x83, 0x00} // fin=1, opcode=3 (reserved), len=0
	dec := NewDecoder(bytes.NewReader(wire), RoleClient, false)
	_, err := dec.ReadFrame()
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolViolation, kind)
}

func TestDecoderRejectsMaskRoleMismatch(t *testing.T) {
	// Server decoder expects masked client frames; send an unmasked one.
	f := Frame{Fin: true, Opcode: OpText, Masked: false, Payload: []byte("hi")}
	wire := Encode(f)
	dec := NewDecoder(bytes.NewReader(wire), RoleServer, false)
	_, err := dec.ReadFrame()
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolViolation, kind)
}

func TestDecoderRejectsOversizedControlFrame(t *testing.T) {
	f := Frame{Fin: true, Opcode: OpPing, Payload: bytes.Repeat([]byte{0}, 126)}
	wire := Encode(f)
	dec := NewDecoder(bytes.NewReader(wire), RoleClient, false)
	_, err := dec.ReadFrame()
	kind, ok := KindOf(err)
	require.True(t, ok, dumpOnFail(t, f))
	assert.Equal(t, KindProtocolViolation, kind)
}

func TestDecoderRejectsFragmentedControlFrame(t *testing.T) {
	wire := []byte{0x09, 0x00} // fin=0, opcode=Ping, len=0
	dec := NewDecoder(bytes.NewReader(wire), RoleClient, false)
	_, err := dec.ReadFrame()
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolViolation, kind)
}

func TestDecoderRejectsStrayContinuation(t *testing.T) {
	f := Frame{Fin: true, Opcode: OpContinuation, Payload: []byte("x")}
	wire := Encode(f)
	dec := NewDecoder(bytes.NewReader(wire), RoleClient, false)
	_, err := dec.ReadFrame()
	kind, ok := KindOf(err)
	require.True(t, ok, dumpOnFail(t, f))
	assert.Equal(t, KindProtocolViolation, kind)
}

func TestDecoderRejectsInterleavedDataMessage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode(Frame{Fin: false, Opcode: OpText, Payload: []byte("a")}))
	buf.Write(Encode(Frame{Fin: true, Opcode: OpBinary, Payload: []byte("b")}))
	dec := NewDecoder(&buf, RoleClient, false)
	_, err := dec.ReadFrame()
	require.NoError(t, err)
	_, err = dec.ReadFrame()
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolViolation, kind)
}

func TestDecoderAllowsControlFrameDuringFragmentedMessage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode(Frame{Fin: false, Opcode: OpText, Payload: []byte("a")}))
	buf.Write(Encode(Frame{Fin: true, Opcode: OpPing, Payload: []byte("p")}))
	buf.Write(Encode(Frame{Fin: true, Opcode: OpContinuation, Payload: []byte("b")}))
	dec := NewDecoder(&buf, RoleClient, false)
	_, err := dec.ReadFrame()
	require.NoError(t, err)
	ping, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, OpPing, ping.Opcode)
	_, err = dec.ReadFrame()
	require.NoError(t, err)
}

func TestFragmentSplitsAtThreshold(t *testing.T) {
	frames := Fragment(OpBinary, []byte("0123456789"), false, false, 4)
	require.Len(t, frames, 3)
	assert.Equal(t, OpBinary, frames[0].Opcode)
	assert.False(t, frames[0].Fin)
	assert.Equal(t, OpContinuation, frames[1].Opcode)
	assert.False(t, frames[1].Fin)
	assert.Equal(t, OpContinuation, frames[2].Opcode)
	assert.True(t, frames[2].Fin)
}

func TestFragmentBelowThresholdIsSingleFrame(t *testing.T) {
	frames := Fragment(OpText, []byte("hi"), false, false, 4)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Fin)
	assert.Equal(t, OpText, frames[0].Opcode)
}

func TestCloseFramePayloadRoundTrip(t *testing.T) {
	payload := CloseFramePayload(1000, "bye")
	code, reason := ParseCloseFramePayload(payload)
	assert.Equal(t, 1000, code)
	assert.Equal(t, "bye", reason)
}

func TestParseCloseFramePayloadEmpty(t *testing.T) {
	code, reason := ParseCloseFramePayload(nil)
	assert.Equal(t, CloseNoStatusReceived, code)
	assert.Equal(t, "", reason)
}
