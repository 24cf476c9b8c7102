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
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// Request is the parsed request line, headers, and body reader for one
// HTTP exchange.
type Request struct {
	Method        string
	RawURL        string
	URL           *url.URL
	Proto         string
	Major, Minor  int
	Header        *Header
	Host          string
	ContentLength int64
	Chunked       bool
	RemoteAddr    net.Addr

	body io.Reader
}

// Body returns a reader over the request body, transparently decoding
// chunked transfer-encoding if the request used it.
func (r *Request) Body() io.Reader { return r.body }

// FlushInput drains any unread body bytes so the connection can be
// safely reused for the next request.
func (r *Request) FlushInput() bool {
	if r.body == nil {
		return true
	}
	_, err := io.Copy(io.Discard, r.body)
	return err == nil
}

// expects100Continue reports whether the client sent Expect:
// 100-continue and supplied a determinable body length.
func (r *Request) expects100Continue() bool {
	return r.Header.Contains("Expect", "100-continue") && (r.Chunked || r.ContentLength >= 0)
}

// Response accumulates the status, headers and body the connection state
// machine will write to the wire. Most fields are set through methods
// rather than direct assignment so reserved headers stay protected.
type Response struct {
	StatusCode int
	Header     *Header
	Principal  *Principal

	closed     bool
	closeConn  bool
	bodyBuf    []byte
	bw         *bufio.Writer
	protoMajor int
	protoMinor int
}

// newResponse allocates a 200-OK response with an empty header set.
func newResponse(bw *bufio.Writer, major, minor int) *Response {
	return &Response{
		StatusCode: 200,
		Header:     NewHeader(),
		bw:         bw,
		protoMajor: major,
		protoMinor: minor,
	}
}

// Write appends p to the response body buffer.
func (resp *Response) Write(p []byte) (int, error) {
	resp.bodyBuf = append(resp.bodyBuf, p...)
	return len(p), nil
}

// SetStatusCode sets the numeric status written on the status line.
func (resp *Response) SetStatusCode(code int) { resp.StatusCode = code }

// CloseConnection asks the connection state machine to send
// "Connection: close" and not reuse this transport, regardless of the
// normal reuse policy.
func (resp *Response) CloseConnection() { resp.closeConn = true }

// Closed reports whether Close has already been called. A closed
// response can no longer be upgraded to a WebSocket session.
func (resp *Response) Closed() bool { return resp.closed }

// close finalizes and writes the response to the wire. force, when true,
// always appends Connection: close (used for fatal parse errors).
func (resp *Response) close(force bool) error {
	if resp.closed {
		return nil
	}
	resp.closed = true

	mustClose := force || resp.closeConn || forcesConnectionClose(resp.StatusCode)

	resp.Header.Del("Content-Length")
	resp.Header.Del("Transfer-Encoding")
	resp.Header.Del("Connection")
	if mustClose {
		resp.Header.setUnchecked("Connection", "close")
		resp.closeConn = true
	} else if resp.protoMajor == 1 && resp.protoMinor == 0 {
		resp.Header.setUnchecked("Connection", "keep-alive")
	}
	resp.Header.setUnchecked("Content-Length", fmt.Sprintf("%d", len(resp.bodyBuf)))

	if _, err := fmt.Fprintf(resp.bw, "HTTP/%d.%d %d %s\r\n", resp.protoMajor, resp.protoMinor, resp.StatusCode, StatusText(resp.StatusCode)); err != nil {
		return err
	}
	var sb strings.Builder
	resp.Header.WriteTo(&sb)
	if _, err := resp.bw.WriteString(sb.String()); err != nil {
		return err
	}
	if _, err := resp.bw.WriteString("\r\n"); err != nil {
		return err
	}
	if len(resp.bodyBuf) > 0 {
		if _, err := resp.bw.Write(resp.bodyBuf); err != nil {
			return err
		}
	}
	return resp.bw.Flush()
}

// Principal is the authenticated identity attached to a context once
// Basic/Digest auth succeeds.
type Principal struct {
	Name   string
	Scheme AuthScheme
}

// HttpContext composes a Request, a Response, an optional authenticated
// Principal, and the listener it was dispatched to.
type HttpContext struct {
	ID       string
	Request  *Request
	Response *Response
	listener *Listener
	conn     *httpConnection

	wsAccepted bool
	done       chan struct{}
}

// Close signals that the caller has finished populating Response (status,
// headers, body) and the owning connection may now write it to the wire.
// Callers that received ctx from Listener.GetContext must call exactly one
// of Close or AcceptWebSocket. Calling it more than once is a no-op; a
// context the connection finished synchronously (auth/routing failures)
// is already closed before a caller can observe it.
func (c *HttpContext) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Hijack is the actual point of no return for a WebSocket upgrade: it is
// the one documented seam into package wsnet (via an Upgrader, see
// listener.go), and the only place that enforces that a context either
// closes its HTTP response or starts a WebSocket session, never both. An
// Upgrader must validate the handshake completely before calling this —
// once it returns successfully, the owning httpConnection will never read
// or write the transport again, so a later validation failure could not
// be reported as an ordinary HTTP response.
func (c *HttpContext) Hijack() (net.Conn, *bufio.Reader, *bufio.Writer, error) {
	if c.Response.closed || c.wsAccepted {
		return nil, nil, nil, fmt.Errorf("context already finalized")
	}
	c.wsAccepted = true
	c.Close()
	return c.conn.conn, c.conn.lr.Reader(), c.conn.bw, nil
}
