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
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nuid"
)

// maxReuses is the keep-alive reuse ceiling: a connection sends
// Connection: close once it has been reused this many times.
const maxReuses = 100

const (
	firstRequestTimeout = 90 * time.Second
	reuseTimeout        = 15 * time.Second
)

type connState int

const (
	stateRequestLine connState = iota
	stateHeaders
	stateDispatched
	stateClosed
)

// httpConnection owns one accepted transport (plain or TLS) and drives it
// through the request state machine: ReadingRequestLine -> ReadingHeaders
// -> Dispatched -> (Reused | Closed).
type httpConnection struct {
	id      string
	conn    net.Conn
	binding *endpointBinding
	lr      *LineReader
	bw      *bufio.Writer

	state   connState
	reuses  int
	watchdg *time.Timer
	log     logger

	aborted   bool
	handedOff bool
}

func newHTTPConnection(conn net.Conn, b *endpointBinding) (*httpConnection, error) {
	hc := &httpConnection{
		id:      nuid.Next(),
		conn:    conn,
		binding: b,
		lr:      NewLineReader(conn, 4096),
		bw:      bufio.NewWriter(conn),
		log:     newLogger("httpnet/connection"),
	}
	return hc, nil
}

// abort forcibly tears down the connection, used when its owning
// endpointBinding is closed out from under it.
func (hc *httpConnection) abort() {
	hc.aborted = true
	if hc.watchdg != nil {
		hc.watchdg.Stop()
	}
	hc.conn.Close()
}

// serve runs the read-dispatch-reuse loop until the connection closes.
func (hc *httpConnection) serve() {
	defer hc.binding.untrackConn(hc)
	defer func() {
		// Once a WebSocket upgrade has transferred ownership of the
		// transport, this connection must never touch it again — not
		// even to close it.
		if !hc.handedOff {
			hc.conn.Close()
		}
	}()

	hc.armWatchdog(firstRequestTimeout)
	for {
		hc.state = stateRequestLine
		req, parseErr := hc.readRequest()
		hc.stopWatchdog()
		if hc.aborted {
			hc.state = stateClosed
			return
		}
		if parseErr != nil {
			hc.handleParseError(parseErr, req != nil)
			hc.state = stateClosed
			return
		}
		hc.state = stateDispatched

		ctx := &HttpContext{ID: nuid.Next(), Request: req, conn: hc, done: make(chan struct{})}
		resp := newResponse(hc.bw, req.Major, req.Minor)
		ctx.Response = resp

		if req.expects100Continue() {
			hc.bw.WriteString("HTTP/1.1 100 Continue\r\n\r\n")
			hc.bw.Flush()
		}

		hc.dispatch(ctx)

		// A request routed to a Listener's context queue is handed to an
		// async consumer (Listener.GetContext); wait for it to finish
		// populating Response (or accept a WebSocket upgrade) before this
		// connection writes anything to the wire.
		<-ctx.done

		if ctx.wsAccepted {
			hc.handedOff = true
			return
		}

		force := hc.reuses >= maxReuses
		if err := resp.close(force); err != nil {
			hc.state = stateClosed
			return
		}
		if resp.closeConn || !req.FlushInput() {
			hc.state = stateClosed
			return
		}
		hc.reuses++
		hc.lr.Reset()
		hc.armWatchdog(reuseTimeout)
	}
}

func (hc *httpConnection) armWatchdog(d time.Duration) {
	hc.watchdg = time.AfterFunc(d, func() { hc.abort() })
}

func (hc *httpConnection) stopWatchdog() {
	if hc.watchdg != nil {
		hc.watchdg.Stop()
	}
}

// readRequest parses the request line and headers and finalizes the
// Request. The returned *Request may be non-nil even on error
// once the request line has been successfully parsed, which
// handleParseError uses to decide whether bytes have already been
// committed to the peer's view of the stream.
func (hc *httpConnection) readRequest() (*Request, error) {
	line, err := hc.lr.ReadLine()
	if err != nil {
		return nil, err
	}
	req, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}
	hc.state = stateHeaders
	req.RemoteAddr = hc.conn.RemoteAddr()
	req.Header = NewHeader()

	for {
		hline, err := hc.lr.ReadLine()
		if err != nil {
			return req, err
		}
		if hline == "" {
			break
		}
		if err := req.Header.ParseHeaderLine(hline); err != nil {
			return req, newError(KindBadRequest, err.Error())
		}
	}

	if err := hc.finalizeRequest(req); err != nil {
		return req, err
	}
	return req, nil
}

func parseRequestLine(line string) (*Request, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, newError(KindBadRequest, "malformed request line")
	}
	method, target, proto := parts[0], parts[1], parts[2]
	major, minor, ok := parseHTTPVersion(proto)
	if !ok || major < 1 {
		return nil, newError(KindBadRequest, "unsupported HTTP version")
	}
	return &Request{Method: method, RawURL: target, Proto: proto, Major: major, Minor: minor}, nil
}

func parseHTTPVersion(proto string) (major, minor int, ok bool) {
	if !strings.HasPrefix(proto, "HTTP/") {
		return 0, 0, false
	}
	rest := proto[len("HTTP/"):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(rest[:dot])
	min, err2 := strconv.Atoi(rest[dot+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

// finalizeRequest validates Host, Transfer-Encoding, and Content-Length,
// and wires up the body reader (raw or chunked).
func (hc *httpConnection) finalizeRequest(req *Request) error {
	req.Host = req.Header.Get("Host")
	if req.Major == 1 && req.Minor >= 1 && req.Host == "" {
		return newError(KindBadRequest, "Host header required for HTTP/1.1")
	}

	scheme := "http"
	if _, ok := hc.conn.(*tls.Conn); ok {
		scheme = "https"
	}
	u, err := url.ParseRequestURI(req.RawURL)
	if err != nil {
		u = &url.URL{Path: req.RawURL}
	}
	u.Scheme = scheme
	u.Host = req.Host
	req.URL = u

	te := req.Header.Get("Transfer-Encoding")
	if te != "" {
		if !strings.EqualFold(te, "chunked") {
			return newError(KindNotImplementedTE, "unsupported transfer-encoding")
		}
		req.Chunked = true
	}

	clStr := req.Header.Get("Content-Length")
	if !req.Chunked {
		if clStr == "" {
			if req.Method == "POST" || req.Method == "PUT" {
				return newError(KindLengthRequired, "Content-Length required")
			}
			req.ContentLength = 0
		} else {
			n, err := strconv.ParseInt(clStr, 10, 64)
			if err != nil || n < 0 {
				return newError(KindBadRequest, "malformed Content-Length")
			}
			req.ContentLength = n
		}
		req.body = io.LimitReader(hc.lr.Reader(), req.ContentLength)
	} else {
		req.body = newChunkedReader(hc.lr.Reader())
	}
	return nil
}

// dispatch routes ctx by prefix (404 when no Listener matches), then
// authenticates it with the matched Listener's auth config: Anonymous
// passes through, None yields 403, Basic/Digest verifies Authorization;
// on success ctx is handed to that Listener.
func (hc *httpConnection) dispatch(ctx *HttpContext) {
	l, found := globalRegistry.findListener(ctx.Request.Host, ctx.Request.URL.Path, hc.binding)
	if !found {
		ctx.Response.SetStatusCode(404)
		fmt.Fprint(ctx.Response, "404 Not Found")
		ctx.Close()
		return
	}
	ctx.listener = l

	auth := l.authConfig()
	principal, err := auth.authenticate(ctx.Request)
	if err != nil {
		hc.writeAuthFailure(ctx, auth, err)
		ctx.Close()
		return
	}
	ctx.Response.Principal = principal
	l.deliver(ctx)
}

func (hc *httpConnection) writeAuthFailure(ctx *HttpContext, auth *AuthConfig, err error) {
	kind, _ := KindOf(err)
	switch kind {
	case KindForbidden:
		ctx.Response.SetStatusCode(403)
		fmt.Fprint(ctx.Response, "403 Forbidden")
	default:
		ctx.Response.SetStatusCode(401)
		challenge := auth.challengeFor(err == errStaleNonce)
		ctx.Response.Header.setUnchecked("WWW-Authenticate", challenge)
		fmt.Fprint(ctx.Response, "401 Unauthorized")
	}
}

// handleParseError: errors before any
// bytes were committed close silently; errors after some bytes arrived
// (a parsed request line) get a minimal error response first.
func (hc *httpConnection) handleParseError(err error, hadRequestLine bool) {
	if !hadRequestLine {
		return
	}
	kind, ok := KindOf(err)
	status := 400
	if ok {
		if s, has := statusByKind[kind]; has {
			status = s
		}
	}
	resp := newResponse(hc.bw, 1, 1)
	resp.SetStatusCode(status)
	fmt.Fprintf(resp, "%d %s", status, StatusText(status))
	resp.close(true)
}
