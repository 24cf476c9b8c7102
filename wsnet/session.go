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
	"bytes"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nats-io/nuid"
	"github.com/pion/logging"
)

// State is a Session's position in its lifecycle state machine.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// closeGrace is how long Closing waits for the peer's Close frame after
// the local side has sent its own, before the transport is force closed.
const closeGrace = time.Second

type opKind int

const (
	opData opKind = iota
	opPing
	opPong
	opClose
)

type sendOp struct {
	kind    opKind
	isText  bool
	payload []byte
	code    int
	reason  string
}

// Callbacks is the event surface a Session drives: on_open/on_message/
// on_ping/on_pong/on_close/on_error. Any of them may be left nil.
type Callbacks struct {
	OnOpen    func(s *Session)
	OnMessage func(payload []byte, isText bool)
	OnPing    func(payload []byte)
	OnPong    func(payload []byte)
	OnClose   func(code int, reason string, clean bool)
	OnError   func(err error)
}

// Config tunes one Session's fragmentation, compression and keepalive
// behavior.
type Config struct {
	Role              Role
	FragmentThreshold int // 0 disables send-side fragmentation
	Deflate           *ExtensionParams
	PingInterval      time.Duration // 0 disables the pinger
	PongTimeout       time.Duration
}

// Session is the WebSocket session state machine: a serialized send queue
// with exactly one active writer, a single receive pump that reassembles
// fragmented messages and dispatches control frames inline, ping/pong
// keepalive, and close-handshake ordering, layered on top of the Frame
// codec and the permessage-deflate extension.
type Session struct {
	ID   string
	conn net.Conn
	bw   *bufio.Writer
	dec  *Decoder
	cfg  Config
	cb   Callbacks
	log  logging.LeveledLogger

	state atomic.Int32

	sendCh chan sendOp
	done   chan struct{}

	closeSent     atomic.Bool
	closeReceived atomic.Bool
	errorFired    atomic.Bool
	closeFired    atomic.Bool

	pendingPingMu sync.Mutex
	pendingPing   []byte

	compressor   *Compressor
	decompressor *Decompressor
}

// NewSession wraps an already-upgraded transport in a Session and starts
// its writer and reader goroutines. conn, br and bw are normally obtained
// from httpnet.HttpContext.Hijack after a successful handshake.
func NewSession(conn net.Conn, br *bufio.Reader, bw *bufio.Writer, cfg Config, cb Callbacks) *Session {
	s := &Session{
		ID:     nuid.Next(),
		conn:   conn,
		bw:     bw,
		dec:    NewDecoder(br, cfg.Role, cfg.Deflate != nil),
		cfg:    cfg,
		cb:     cb,
		log:    newLogger("wsnet/session"),
		sendCh: make(chan sendOp, 64),
		done:   make(chan struct{}),
	}
	if cfg.Deflate != nil {
		noCtxSend := cfg.Deflate.ServerNoContextTakeover
		noCtxRecv := cfg.Deflate.ClientNoContextTakeover
		bitsSend := cfg.Deflate.ServerMaxWindowBits
		bitsRecv := cfg.Deflate.ClientMaxWindowBits
		if cfg.Role == RoleClient {
			noCtxSend, noCtxRecv = noCtxRecv, noCtxSend
			bitsSend, bitsRecv = bitsRecv, bitsSend
		}
		s.compressor = NewCompressor(noCtxSend, bitsSend)
		s.decompressor = NewDecompressor(noCtxRecv, bitsRecv)
	}

	s.state.Store(int32(StateOpen))
	if cb.OnOpen != nil {
		// Run before the pumps start so a handler can safely stash s for
		// later sends without racing the first inbound message.
		cb.OnOpen(s)
	}
	go s.writeLoop()
	go s.readLoop()
	if s.cfg.PingInterval > 0 {
		go s.pingLoop()
	}
	return s
}

// State returns the session's current state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) isMasked() bool { return s.cfg.Role == RoleClient }

func (s *Session) transition(to State) { s.state.Store(int32(to)) }

// SendText enqueues a Text message. Returns ErrSessionClosed once a Close
// frame has been sent.
func (s *Session) SendText(payload string) error {
	return s.enqueueData(OpText, []byte(payload))
}

// SendBinary enqueues a Binary message.
func (s *Session) SendBinary(payload []byte) error {
	return s.enqueueData(OpBinary, payload)
}

func (s *Session) enqueueData(op Opcode, payload []byte) error {
	if s.closeSent.Load() {
		return ErrSessionClosed
	}
	return s.enqueue(sendOp{kind: opData, isText: op == OpText, payload: payload})
}

// SendPing enqueues a Ping carrying payload (may be empty) and records it
// as the pending correlation for the next Pong.
func (s *Session) SendPing(payload []byte) error {
	if s.closeSent.Load() {
		return ErrSessionClosed
	}
	s.pendingPingMu.Lock()
	s.pendingPing = append([]byte{}, payload...)
	s.pendingPingMu.Unlock()
	return s.enqueue(sendOp{kind: opPing, payload: payload})
}

func (s *Session) sendPong(payload []byte) error {
	return s.enqueue(sendOp{kind: opPong, payload: payload})
}

// Close enqueues a Close frame with code/reason and begins the closing
// handshake. Writing a Close frame atomically flips closeSent and refuses
// further sends; codes the protocol forbids on the wire are rejected
// outright.
func (s *Session) Close(code int, reason string) error {
	if !ValidCloseCode(code) {
		return newError(KindProtocolViolation, "close code must not be sent on the wire")
	}
	if !s.closeSent.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	s.transition(StateClosing)
	err := s.enqueue(sendOp{kind: opClose, code: code, reason: reason})
	go s.closeGraceTimer()
	return err
}

// closeGraceTimer force-closes the transport if the peer's own Close
// frame does not arrive within closeGrace of ours being sent.
func (s *Session) closeGraceTimer() {
	t := time.NewTimer(closeGrace)
	defer t.Stop()
	select {
	case <-t.C:
		if !s.closeReceived.Load() {
			s.forceClose(CloseAbnormalClosure, "", false)
		}
	case <-s.done:
	}
}

func (s *Session) enqueue(op sendOp) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	select {
	case s.sendCh <- op:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// writeLoop is the single writer goroutine: exactly one write is in
// flight at a time, and ops drain the channel FIFO, preserving per-sender
// ordering.
func (s *Session) writeLoop() {
	for {
		select {
		case op := <-s.sendCh:
			if err := s.writeOp(op); err != nil {
				s.fail(err)
				return
			}
			if op.kind == opClose {
				// Close is terminal: nothing further is written even if
				// more ops were already queued behind it.
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) writeOp(op sendOp) error {
	switch op.kind {
	case opData:
		return s.writeData(op)
	case opPing:
		return s.writeControl(OpPing, op.payload)
	case opPong:
		return s.writeControl(OpPong, op.payload)
	case opClose:
		payload := CloseFramePayload(op.code, op.reason)
		if err := s.writeControl(OpClose, payload); err != nil {
			return err
		}
		if s.closeReceived.Load() {
			s.transition(StateClosed)
			s.finish(op.code, op.reason, true)
		}
		return nil
	}
	return nil
}

func (s *Session) writeData(op sendOp) error {
	payload := op.payload
	rsv1 := false
	if s.compressor != nil {
		compressed, err := s.compressor.CompressMessage(payload)
		if err != nil {
			return err
		}
		payload = compressed
		rsv1 = true
	}
	baseOp := OpBinary
	if op.isText {
		baseOp = OpText
	}
	frames := Fragment(baseOp, payload, s.isMasked(), rsv1, s.cfg.FragmentThreshold)
	for _, f := range frames {
		if _, err := s.bw.Write(Encode(f)); err != nil {
			return err
		}
	}
	return s.bw.Flush()
}

func (s *Session) writeControl(op Opcode, payload []byte) error {
	f := Frame{Fin: true, Opcode: op, Masked: s.isMasked(), Payload: payload}
	if _, err := s.bw.Write(Encode(f)); err != nil {
		return err
	}
	return s.bw.Flush()
}

// readLoop is the single receive pump: it drives frame decode, dispatches
// control frames inline, and feeds data frames to the reassembler.
func (s *Session) readLoop() {
	var store *payloadStore
	var msgOp Opcode
	var msgCompressed bool

	resetMessage := func() {
		if store != nil {
			store.Close()
			store = nil
		}
	}
	defer resetMessage()

	for {
		f, err := s.dec.ReadFrame()
		if err != nil {
			if s.State() == StateClosed {
				return
			}
			if kind, ok := KindOf(err); ok {
				if code, hasCode := (&Error{Kind: kind}).CloseCode(); hasCode {
					s.abortWithProtocolError(code, err.Error())
					return
				}
			}
			s.forceClose(CloseAbnormalClosure, "", false)
			return
		}

		switch {
		case f.Opcode == OpClose:
			code, reason := ParseCloseFramePayload(f.Payload)
			if len(f.Payload) > 2 && !utf8.ValidString(reason) {
				code, reason = CloseInvalidPayload, "invalid utf-8 in close reason"
			}
			s.handlePeerClose(code, reason)
			return
		case f.Opcode == OpPing:
			if s.cb.OnPing != nil {
				s.cb.OnPing(f.Payload)
			}
			s.sendPong(f.Payload)
		case f.Opcode == OpPong:
			s.handlePong(f.Payload)
		default:
			if store == nil {
				store = newPayloadStore()
				msgOp = f.Opcode
				msgCompressed = f.Rsv1
			}
			if err := store.Append(f.Payload); err != nil {
				s.abortWithProtocolError(CloseInternalError, err.Error())
				return
			}
			if f.Fin {
				payload, err := store.Bytes()
				store.Close()
				store = nil
				if err != nil {
					s.abortWithProtocolError(CloseInternalError, err.Error())
					return
				}
				if msgCompressed && s.decompressor != nil {
					payload, err = s.decompressor.DecompressMessage(payload)
					if err != nil {
						s.abortWithProtocolError(CloseInternalError, err.Error())
						return
					}
				}
				isText := msgOp == OpText
				if isText && !utf8.Valid(payload) {
					s.abortWithProtocolError(CloseInvalidPayload, "invalid utf-8 in text message")
					// The wire position is still valid (a complete frame
					// was decoded); keep the pump alive so the peer's
					// Close echo can still be observed instead of always
					// falling through to the 1s grace timeout.
					continue
				}
				if s.cb.OnMessage != nil {
					s.cb.OnMessage(payload, isText)
				}
			}
		}
	}
}

func (s *Session) handlePong(payload []byte) {
	s.pendingPingMu.Lock()
	s.pendingPing = nil
	s.pendingPingMu.Unlock()
	if s.cb.OnPong != nil {
		s.cb.OnPong(payload)
	}
}

// handlePeerClose implements the peer-initiated half of the Closing
// transition: if we already sent our own Close, both directions are
// satisfied and the session finishes immediately; otherwise the peer's
// code is echoed back and the writer finishes the handshake once it has
// flushed that echo.
func (s *Session) handlePeerClose(code int, reason string) {
	s.closeReceived.Store(true)
	if s.closeSent.Load() {
		s.transition(StateClosed)
		s.finish(code, reason, true)
		return
	}
	s.closeSent.Store(true)
	s.transition(StateClosing)
	s.enqueue(sendOp{kind: opClose, code: echoCloseCode(code), reason: reason})
}

func echoCloseCode(code int) int {
	if !ValidCloseCode(code) {
		return CloseNormalClosure
	}
	return code
}

// abortWithProtocolError sends code/msg as a Close frame (best effort)
// and lets the usual grace-timer/finish path tear the session down.
func (s *Session) abortWithProtocolError(code int, msg string) {
	s.Close(code, msg)
}

// fail reports a transport-level failure once and force-closes.
func (s *Session) fail(err error) {
	if !s.errorFired.CompareAndSwap(false, true) {
		return
	}
	s.log.Errorf("session %s: %v", s.ID, err)
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
	s.forceClose(CloseAbnormalClosure, "", false)
}

func (s *Session) forceClose(code int, reason string, clean bool) {
	s.transition(StateClosed)
	s.finish(code, reason, clean)
}

// finish runs exactly once: it unblocks every goroutine waiting on done,
// closes the transport, and fires on_close.
func (s *Session) finish(code int, reason string, clean bool) {
	if !s.closeFired.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.conn.Close()
	if s.cb.OnClose != nil {
		s.cb.OnClose(code, reason, clean)
	}
}

// pingLoop periodically sends unsolicited Pings and force-closes the
// session if a Pong does not arrive within PongTimeout, per the keepalive
// policy.
func (s *Session) pingLoop() {
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if s.State() != StateOpen {
				return
			}
			payload := cryptoRandomBytes(4)
			if err := s.SendPing(payload); err != nil {
				return
			}
			s.schedulePongTimeout(payload)
		case <-s.done:
			return
		}
	}
}

func (s *Session) schedulePongTimeout(sent []byte) {
	if s.cfg.PongTimeout <= 0 {
		return
	}
	timer := time.NewTimer(s.cfg.PongTimeout)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			s.pendingPingMu.Lock()
			stillPending := bytes.Equal(s.pendingPing, sent)
			s.pendingPingMu.Unlock()
			if stillPending {
				s.forceClose(CloseInternalError, "pong timeout", false)
			}
		case <-s.done:
		}
	}()
}
