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
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServerSession wires a Session to one end of an in-process net.Pipe,
// leaving the other end under the test's direct control as the "peer".
func newServerSession(t *testing.T, cfg Config, cb Callbacks) (*Session, net.Conn, *bufio.Reader) {
	t.Helper()
	serverConn, peerConn := net.Pipe()
	cfg.Role = RoleServer
	s := NewSession(serverConn, bufio.NewReader(serverConn), bufio.NewWriter(serverConn), cfg, cb)
	t.Cleanup(func() { peerConn.Close() })
	return s, peerConn, bufio.NewReader(peerConn)
}

func readPeerFrame(t *testing.T, r *bufio.Reader) Frame {
	t.Helper()
	dec := NewDecoder(r, RoleClient, false)
	f, err := dec.ReadFrame()
	require.NoError(t, err)
	return f
}

func writeClientFrame(t *testing.T, conn net.Conn, f Frame) {
	t.Helper()
	f.Masked = true
	_, err := conn.Write(Encode(f))
	require.NoError(t, err)
}

// TestSessionDeliversTextMessage: a masked client Text frame is delivered
// to OnMessage byte-exact.
func TestSessionDeliversTextMessage(t *testing.T) {
	msgCh := make(chan string, 1)
	_, peer, peerR := newServerSession(t, Config{}, Callbacks{
		OnMessage: func(payload []byte, isText bool) {
			if isText {
				msgCh <- string(payload)
			}
		},
	})

	writeClientFrame(t, peer, Frame{Fin: true, Opcode: OpText, Payload: []byte("Hello")})

	select {
	case got := <-msgCh:
		assert.Equal(t, "Hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	_ = peerR
}

// TestSessionAssemblesFragmentedBinary: three 4-byte fragments arrive as
// one 12-byte Binary message.
func TestSessionAssemblesFragmentedBinary(t *testing.T) {
	msgCh := make(chan []byte, 1)
	_, peer, _ := newServerSession(t, Config{}, Callbacks{
		OnMessage: func(payload []byte, isText bool) {
			if !isText {
				msgCh <- append([]byte{}, payload...)
			}
		},
	})

	writeClientFrame(t, peer, Frame{Fin: false, Opcode: OpBinary, Payload: []byte{1, 2, 3, 4}})
	writeClientFrame(t, peer, Frame{Fin: false, Opcode: OpContinuation, Payload: []byte{5, 6, 7, 8}})
	writeClientFrame(t, peer, Frame{Fin: true, Opcode: OpContinuation, Payload: []byte{9, 10, 11, 12}})

	select {
	case got := <-msgCh:
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

// The peer pings the session and expects a Pong echo carrying the exact
// ping payload.
func TestSessionRepliesToPingWithMatchingPayload(t *testing.T) {
	pingCh := make(chan []byte, 1)
	_, peer, peerR := newServerSession(t, Config{}, Callbacks{
		OnPing: func(payload []byte) { pingCh <- payload },
	})

	writeClientFrame(t, peer, Frame{Fin: true, Opcode: OpPing, Payload: []byte{1, 2, 3}})

	select {
	case got := <-pingCh:
		assert.Equal(t, []byte{1, 2, 3}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ping callback")
	}

	pong := readPeerFrame(t, peerR)
	assert.Equal(t, OpPong, pong.Opcode)
	assert.Equal(t, []byte{1, 2, 3}, pong.Payload)
}

// TestSessionCloseHandshakeIsClean: a peer Close(1000, "bye") is echoed
// and on_close fires with clean=true.
func TestSessionCloseHandshakeIsClean(t *testing.T) {
	closeCh := make(chan struct {
		code   int
		reason string
		clean  bool
	}, 1)
	_, peer, peerR := newServerSession(t, Config{}, Callbacks{
		OnClose: func(code int, reason string, clean bool) {
			closeCh <- struct {
				code   int
				reason string
				clean  bool
			}{code, reason, clean}
		},
	})

	writeClientFrame(t, peer, Frame{Fin: true, Opcode: OpClose, Payload: CloseFramePayload(1000, "bye")})

	echoed := readPeerFrame(t, peerR)
	assert.Equal(t, OpClose, echoed.Opcode)
	code, reason := ParseCloseFramePayload(echoed.Payload)
	assert.Equal(t, 1000, code)
	assert.Equal(t, "bye", reason)

	select {
	case got := <-closeCh:
		assert.Equal(t, 1000, got.code)
		assert.True(t, got.clean)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_close")
	}
}

// TestSessionClosesOnInvalidUTF8Text: a Text frame with an invalid
// UTF-8 sequence closes the session with 1007.
func TestSessionClosesOnInvalidUTF8Text(t *testing.T) {
	closeCh := make(chan int, 1)
	_, peer, peerR := newServerSession(t, Config{}, Callbacks{
		OnClose: func(code int, reason string, clean bool) { closeCh <- code },
	})

	writeClientFrame(t, peer, Frame{Fin: true, Opcode: OpText, Payload: []byte{0xC3, 0x28}})

	sent := readPeerFrame(t, peerR)
	assert.Equal(t, OpClose, sent.Opcode)
	code, reason := ParseCloseFramePayload(sent.Payload)
	assert.Equal(t, CloseInvalidPayload, code)

	// Echo the close back, as a well-behaved peer would, so the session
	// finishes its handshake immediately instead of waiting out the 1s
	// grace timeout (which would otherwise report 1006, not 1007).
	writeClientFrame(t, peer, Frame{Fin: true, Opcode: OpClose, Payload: CloseFramePayload(code, reason)})

	select {
	case got := <-closeCh:
		assert.Equal(t, CloseInvalidPayload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_close")
	}
}

func TestSessionSendTextIsObservedUnmaskedByPeer(t *testing.T) {
	s, peer, peerR := newServerSession(t, Config{}, Callbacks{})
	require.NoError(t, s.SendText("server says hi"))

	f := readPeerFrame(t, peerR)
	assert.Equal(t, OpText, f.Opcode)
	assert.False(t, f.Masked)
	assert.Equal(t, "server says hi", string(f.Payload))
	_ = peer
}

func TestSessionRejectsSendAfterClose(t *testing.T) {
	s, peer, peerR := newServerSession(t, Config{}, Callbacks{})
	require.NoError(t, s.Close(CloseNormalClosure, ""))
	// Drain the close frame the peer sees so the writer loop isn't blocked.
	// Uses the raw decoder directly rather than readPeerFrame/require,
	// which must only be called from the test's own goroutine.
	go func() {
		dec := NewDecoder(peerR, RoleClient, false)
		dec.ReadFrame()
	}()

	err := s.SendText("too late")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_ = peer
}

func TestSessionRejectsForbiddenCloseCode(t *testing.T) {
	s, _, _ := newServerSession(t, Config{}, Callbacks{})
	err := s.Close(CloseAbnormalClosure, "")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolViolation, kind)
}

func TestFragmentationThresholdSplitsOutboundSend(t *testing.T) {
	s, peer, peerR := newServerSession(t, Config{FragmentThreshold: 4}, Callbacks{})
	require.NoError(t, s.SendBinary([]byte("0123456789")))

	// One decoder for all three frames: it must remember the open message
	// to accept the continuations.
	dec := NewDecoder(peerR, RoleClient, false)
	first, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, OpBinary, first.Opcode)
	assert.False(t, first.Fin)
	second, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, OpContinuation, second.Opcode)
	assert.False(t, second.Fin)
	third, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, OpContinuation, third.Opcode)
	assert.True(t, third.Fin)
	_ = peer
}
