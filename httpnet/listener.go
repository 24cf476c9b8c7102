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
	"context"
	"crypto/tls"
	"sync"
)

// contextQueueSize bounds the number of accepted-but-unclaimed contexts a
// Listener will buffer before the dispatching httpConnection blocks.
const contextQueueSize = 64

// Upgrader is supplied by the caller to turn an HttpContext that passed
// the WebSocket handshake validation into a live session. package wsnet
// implements this by wrapping wsnet.Accept; httpnet never imports wsnet
// directly, so the WebSocket core sits on top of the HTTP core and not
// the reverse.
type Upgrader func(ctx *HttpContext) error

// Listener is the public façade: Start/Stop/Abort, GetContext, and (via
// Upgrader) the WebSocket accept seam.
type Listener struct {
	mu       sync.Mutex
	started  bool
	prefixes []ListenerPrefix
	bindings map[*endpointBinding]struct{}
	cert     *tls.Certificate
	auth     AuthConfig
	upgrader Upgrader

	ctxCh chan *HttpContext
	log   logger
}

// NewListener constructs an idle Listener. Call AddPrefix for each URI
// prefix it should serve, then Start.
func NewListener() *Listener {
	return &Listener{
		bindings: map[*endpointBinding]struct{}{},
		ctxCh:    make(chan *HttpContext, contextQueueSize),
		log:      newLogger("httpnet/listener"),
	}
}

// SetCertificate installs the certificate used for any "https" prefix
// added afterward.
func (l *Listener) SetCertificate(cert tls.Certificate) { l.cert = &cert }

// SetAuth configures Basic/Digest/None/Anonymous authentication for every
// request routed to this Listener.
func (l *Listener) SetAuth(cfg AuthConfig) {
	l.mu.Lock()
	l.auth = cfg
	if cfg.Scheme == SchemeDigest {
		l.auth.nonces = &nonceStore{m: map[string]bool{}}
	}
	l.mu.Unlock()
}

// SetUpgrader installs the WebSocket upgrade callback, normally the value
// returned by wsnet.NewUpgrader; nothing installs one automatically.
func (l *Listener) SetUpgrader(u Upgrader) { l.upgrader = u }

func (l *Listener) authConfig() *AuthConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &l.auth
}

// AddPrefix parses and registers raw with the process-wide endpoint
// registry.
func (l *Listener) AddPrefix(raw string) error {
	p, err := ParsePrefix(raw)
	if err != nil {
		return err
	}
	var cert *tls.Certificate
	if p.Scheme == "https" {
		cert = l.cert
	}
	if err := globalRegistry.addPrefix(p, l, cert); err != nil {
		return err
	}
	l.mu.Lock()
	l.prefixes = append(l.prefixes, p)
	l.mu.Unlock()
	return nil
}

// RemovePrefix unregisters raw; once every prefix of every binding this
// Listener used is empty, the underlying accept sockets are closed.
func (l *Listener) RemovePrefix(raw string) error {
	p, err := ParsePrefix(raw)
	if err != nil {
		return err
	}
	globalRegistry.removePrefix(p, l)
	l.mu.Lock()
	for i, existing := range l.prefixes {
		if existing == p {
			l.prefixes = append(l.prefixes[:i], l.prefixes[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	return nil
}

func (l *Listener) addBinding(b *endpointBinding) {
	l.mu.Lock()
	l.bindings[b] = struct{}{}
	l.mu.Unlock()
}

// Start marks the listener ready to accept contexts. The accept loops
// backing its prefixes are already running (they start with the first
// AddPrefix against a new endpoint), so Start mainly flips the gate that
// GetContext honors.
func (l *Listener) Start() {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
}

// Stop removes every prefix this Listener owns, so no new requests are
// routed to it. A binding left with no prefixes at all is closed: its
// accept socket shuts and every connection on it is aborted, including
// ones with a request in flight.
func (l *Listener) Stop() {
	l.mu.Lock()
	prefixes := append([]ListenerPrefix(nil), l.prefixes...)
	l.started = false
	l.mu.Unlock()
	for _, p := range prefixes {
		globalRegistry.removePrefix(p, l)
	}
}

// Abort is Stop plus forcibly closing every connection currently assigned
// to one of this Listener's bindings.
func (l *Listener) Abort() {
	l.Stop()
	l.mu.Lock()
	bindings := make([]*endpointBinding, 0, len(l.bindings))
	for b := range l.bindings {
		bindings = append(bindings, b)
	}
	l.mu.Unlock()
	for _, b := range bindings {
		b.close()
	}
}

// deliver places ctx on the context queue; a GetContext call already
// blocked on the same channel receives it immediately, so the queue and
// the direct-handoff path share one channel rather than needing a
// separate waiter registry.
func (l *Listener) deliver(ctx *HttpContext) {
	l.ctxCh <- ctx
}

// GetContext blocks (honoring ctx's cancellation) until a request has
// been routed to this Listener, returning it as an HttpContext. The
// Listener must have been started.
func (l *Listener) GetContext(ctx context.Context) (*HttpContext, error) {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return nil, newError(KindServiceUnavailable, "listener is not started")
	}
	select {
	case c := <-l.ctxCh:
		return c, nil
	case <-ctx.Done():
		return nil, newError(KindCanceled, "GetContext canceled")
	}
}

// AcceptWebSocket upgrades c's connection to a WebSocket session using the
// Listener's configured Upgrader (normally wired by package wsnet). The
// upgrader is responsible for validating the handshake before calling
// Hijack, which enforces that a context either closes its response or
// starts a WebSocket session, never both; on a validation failure here
// the context is still open and the caller should respond with an
// ordinary error status (e.g. 400) and Close it normally.
func (c *HttpContext) AcceptWebSocket() error {
	if c.listener == nil || c.listener.upgrader == nil {
		return newError(KindServiceUnavailable, "no WebSocket upgrader configured")
	}
	return c.listener.upgrader(c)
}
