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
	"fmt"
	"time"

	"github.com/corews/corews/httpnet"
)

// ServerOptions configures the Upgrader NewUpgrader builds for one
// httpnet.Listener.
type ServerOptions struct {
	HandshakeOptions
	FragmentThreshold int
	PingInterval      time.Duration
	PongTimeout       time.Duration
	// NewCallbacks builds the event callbacks for a freshly accepted
	// session, given the HttpContext it was upgraded from (so handlers
	// can see the authenticated Principal, request path, and so on).
	NewCallbacks func(ctx *httpnet.HttpContext) Callbacks
}

// NewUpgrader returns an httpnet.Upgrader that negotiates the handshake
// response for ctx.Request, writes it over the hijacked transport, and
// starts a server-role Session. Install it with Listener.SetUpgrader;
// httpnet never imports this package, so this is the one place the
// dependency runs the other way.
func NewUpgrader(opts ServerOptions) httpnet.Upgrader {
	return func(ctx *httpnet.HttpContext) error {
		result, err := Accept(ctx.Request, opts.HandshakeOptions)
		if err != nil {
			return err
		}

		conn, br, bw, err := ctx.Hijack()
		if err != nil {
			return err
		}

		if err := writeHandshakeResponse(bw, result); err != nil {
			conn.Close()
			return newError(KindTransportClosed, err.Error())
		}

		var cb Callbacks
		if opts.NewCallbacks != nil {
			cb = opts.NewCallbacks(ctx)
		}
		NewSession(conn, br, bw, Config{
			Role:              RoleServer,
			FragmentThreshold: opts.FragmentThreshold,
			Deflate:           result.Deflate,
			PingInterval:      opts.PingInterval,
			PongTimeout:       opts.PongTimeout,
		}, cb)
		return nil
	}
}

func writeHandshakeResponse(bw *bufio.Writer, result *HandshakeResult) error {
	if _, err := fmt.Fprint(bw, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "Sec-WebSocket-Accept: %s\r\n", result.Accept); err != nil {
		return err
	}
	if result.Subprotocol {
		if _, err := fmt.Fprintf(bw, "Sec-WebSocket-Protocol: %s\r\n", result.Protocol); err != nil {
			return err
		}
	}
	if result.Deflate != nil {
		if _, err := fmt.Fprintf(bw, "Sec-WebSocket-Extensions: %s\r\n", result.Deflate.ResponseExtensionHeader()); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}
