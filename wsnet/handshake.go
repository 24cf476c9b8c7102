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
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/corews/corews/httpnet"
)

// wsGUID is the fixed magic value from RFC 6455 §1.3.
var wsGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// ExtensionParams is one negotiated (or offered) permessage-deflate
// parameter set.
type ExtensionParams struct {
	ServerNoContextTakeover bool
	ClientNoContextTakeover bool
	ServerMaxWindowBits     int
	ClientMaxWindowBits     int
}

// HandshakeResult carries everything the handshake computed that the
// caller needs to answer the client and configure the Session.
type HandshakeResult struct {
	Accept      string
	Protocol    string
	Deflate     *ExtensionParams
	Subprotocol bool // true if Protocol should be echoed
}

// HandshakeOptions lets the caller constrain subprotocol/extension
// acceptance without this package knowing application semantics.
type HandshakeOptions struct {
	// AcceptProtocols, if non-nil, is the opaque token set the server
	// will echo; the first client-offered protocol present in this set
	// wins. A nil set accepts no subprotocol.
	AcceptProtocols map[string]bool
	// AllowDeflate enables permessage-deflate negotiation at all.
	AllowDeflate bool
}

// IsHandshake reports whether req satisfies the structural preconditions
// for being a WebSocket upgrade attempt (method, version,
// Upgrade/Connection tokens, Host, and a syntactically valid key) without
// yet deciding to accept it.
func IsHandshake(req *httpnet.Request) bool {
	if req.Method != "GET" {
		return false
	}
	if req.Major < 1 || (req.Major == 1 && req.Minor < 1) {
		return false
	}
	if req.Host == "" {
		return false
	}
	if !req.Header.Contains("Upgrade", "websocket") {
		return false
	}
	if !req.Header.Contains("Connection", "Upgrade") {
		return false
	}
	if req.Header.Get("Sec-WebSocket-Version") != "13" {
		return false
	}
	return isValidKey(req.Header.Get("Sec-WebSocket-Key"))
}

func isValidKey(key string) bool {
	if key == "" {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(raw) == 16
}

// Accept validates req and computes the handshake response. It
// returns a wsnet *Error of KindHandshakeRejected on any structural
// failure; the caller answers that with an ordinary HTTP error response.
func Accept(req *httpnet.Request, opts HandshakeOptions) (*HandshakeResult, error) {
	if !IsHandshake(req) {
		return nil, newError(KindHandshakeRejected, "request does not satisfy websocket handshake preconditions")
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	res := &HandshakeResult{Accept: acceptKey(key)}

	if proto, ok := selectSubprotocol(req, opts.AcceptProtocols); ok {
		res.Protocol = proto
		res.Subprotocol = true
	}

	if opts.AllowDeflate {
		res.Deflate = negotiateDeflate(req)
	}
	return res, nil
}

// acceptKey computes base64(sha1(key + GUID)), the exact value RFC 6455
// §4.2.2 specifies.
func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write(wsGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// selectSubprotocol returns the first client-offered protocol (from the
// comma-separated Sec-WebSocket-Protocol header, which may repeat) that
// is present in accept. Unknown protocols are skipped rather than
// rejecting the handshake.
func selectSubprotocol(req *httpnet.Request, accept map[string]bool) (string, bool) {
	if len(accept) == 0 {
		return "", false
	}
	for _, v := range req.Header.Values("Sec-WebSocket-Protocol") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if accept[tok] {
				return tok, true
			}
		}
	}
	return "", false
}

// negotiateDeflate walks the client's Sec-WebSocket-Extensions offers in
// order and accepts the first permessage-deflate offer it can satisfy.
// Window-bits parameters are clamped to [8,15]; an offer this
// function cannot parse is skipped rather than rejecting the handshake.
func negotiateDeflate(req *httpnet.Request) *ExtensionParams {
	for _, header := range req.Header.Values("Sec-WebSocket-Extensions") {
		for _, offer := range strings.Split(header, ",") {
			params := strings.Split(offer, ";")
			name := strings.TrimSpace(params[0])
			if !strings.EqualFold(name, "permessage-deflate") {
				continue
			}
			ext := &ExtensionParams{ServerMaxWindowBits: 15, ClientMaxWindowBits: 15}
			ok := true
			for _, p := range params[1:] {
				p = strings.TrimSpace(p)
				k, v, _ := strings.Cut(p, "=")
				k = strings.TrimSpace(strings.ToLower(k))
				v = strings.Trim(strings.TrimSpace(v), `"`)
				switch k {
				case "server_no_context_takeover":
					ext.ServerNoContextTakeover = true
				case "client_no_context_takeover":
					ext.ClientNoContextTakeover = true
				case "server_max_window_bits":
					if n, err := strconv.Atoi(v); err == nil {
						ext.ServerMaxWindowBits = clampWindowBits(n)
					}
				case "client_max_window_bits":
					if v == "" {
						// A bare client_max_window_bits (no value) is a
						// valid offer meaning "client may choose"; keep
						// the default.
						continue
					}
					if n, err := strconv.Atoi(v); err == nil {
						ext.ClientMaxWindowBits = clampWindowBits(n)
					}
				default:
					ok = false
				}
			}
			if ok {
				return ext
			}
		}
	}
	return nil
}

func clampWindowBits(n int) int {
	if n < 8 {
		return 8
	}
	if n > 15 {
		return 15
	}
	return n
}

// ResponseExtensionHeader renders the Sec-WebSocket-Extensions value the
// server echoes for a negotiated deflate.
func (e *ExtensionParams) ResponseExtensionHeader() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("permessage-deflate")
	if e.ServerNoContextTakeover {
		sb.WriteString("; server_no_context_takeover")
	}
	if e.ClientNoContextTakeover {
		sb.WriteString("; client_no_context_takeover")
	}
	return sb.String()
}
