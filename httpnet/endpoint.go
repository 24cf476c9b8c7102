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
	"fmt"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// endpointKey identifies one accept socket: an (IP, port) pair.
type endpointKey struct {
	ip   string
	port int
}

// endpointBinding owns one accept socket shared by every ListenerPrefix
// bound to the same (host, port, secure) tuple.
type endpointBinding struct {
	key      endpointKey
	secure   bool
	cert     *tls.Certificate
	sock     net.Listener
	specific *prefixList
	star     *prefixList
	plus     *prefixList

	mu    sync.Mutex
	conns map[*httpConnection]struct{}

	stop chan struct{}
	log  logger
}

type logger interface {
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// endpointRegistry is the only static mutable state in the package:
// a guarded map from endpointKey to *endpointBinding. The map itself is
// allocated at package init; each binding is created on the first
// addPrefix for its key and removed once its prefix lists are empty.
type endpointRegistry struct {
	mu       sync.Mutex
	bindings map[endpointKey]*endpointBinding
}

var globalRegistry = &endpointRegistry{bindings: map[endpointKey]*endpointBinding{}}

// addPrefix registers prefix for listener, creating the underlying
// endpointBinding (and accept socket) on first use.
func (r *endpointRegistry) addPrefix(prefix ListenerPrefix, listener *Listener, cert *tls.Certificate) error {
	key := endpointKey{ip: resolveBindIP(prefix.Host), port: prefix.Port}

	r.mu.Lock()
	b, ok := r.bindings[key]
	if !ok {
		var err error
		b, err = newEndpointBinding(key, prefix.Scheme == "https", cert)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.bindings[key] = b
		go b.acceptLoop()
	}
	r.mu.Unlock()

	list := b.listFor(prefix)
	if err := list.add(prefixEntry{prefix: prefix, listener: listener}); err != nil {
		return err
	}
	listener.addBinding(b)
	return nil
}

// findListener routes an inbound request to the Listener bound to the
// longest matching prefix on binding.
func (r *endpointRegistry) findListener(host, path string, binding *endpointBinding) (*Listener, bool) {
	return binding.trySearch(host, path)
}

func (r *endpointRegistry) removePrefix(prefix ListenerPrefix, listener *Listener) {
	r.mu.Lock()
	key := endpointKey{ip: resolveBindIP(prefix.Host), port: prefix.Port}
	b, ok := r.bindings[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	b.listFor(prefix).remove(prefix.Path, listener)
	if b.allEmpty() {
		r.mu.Lock()
		delete(r.bindings, key)
		r.mu.Unlock()
		b.close()
	}
}

// resolveBindIP maps "*" and "+" to the all-interfaces wildcard; a
// specific DNS name or IP literal is used verbatim as the bind address
// key (name resolution for the actual net.Listen happens in
// newEndpointBinding).
func resolveBindIP(host string) string {
	if host == "*" || host == "+" {
		return ""
	}
	return host
}

func newEndpointBinding(key endpointKey, secure bool, cert *tls.Certificate) (*endpointBinding, error) {
	addr := fmt.Sprintf("%s:%d", key.ip, key.port)
	sock, err := listenTCPReuseAddr(addr)
	if err != nil {
		return nil, err
	}
	if secure {
		if cert == nil {
			sock.Close()
			return nil, fmt.Errorf("secure prefix requires a server certificate")
		}
		sock = tls.NewListener(sock, &tls.Config{Certificates: []tls.Certificate{*cert}})
	}
	return &endpointBinding{
		key:      key,
		secure:   secure,
		cert:     cert,
		sock:     sock,
		specific: newPrefixList(),
		star:     newPrefixList(),
		plus:     newPrefixList(),
		conns:    map[*httpConnection]struct{}{},
		stop:     make(chan struct{}),
		log:      newLogger("httpnet/endpoint"),
	}, nil
}

func (b *endpointBinding) listFor(p ListenerPrefix) *prefixList {
	switch {
	case p.isSpecific():
		return b.specific
	case p.isWildcardStar():
		return b.star
	default:
		return b.plus
	}
}

func (b *endpointBinding) allEmpty() bool {
	return b.specific.empty() && b.star.empty() && b.plus.empty()
}

func (b *endpointBinding) close() {
	b.mu.Lock()
	select {
	case <-b.stop:
		// Already closed, e.g. by the last RemovePrefix during Abort's Stop.
		b.mu.Unlock()
		return
	default:
	}
	close(b.stop)
	b.mu.Unlock()
	b.sock.Close()
	b.mu.Lock()
	conns := make([]*httpConnection, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		c.abort()
	}
}

func (b *endpointBinding) trackConn(c *httpConnection) {
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
}

func (b *endpointBinding) untrackConn(c *httpConnection) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
}

// acceptLoop is the single cooperative task per endpoint binding. It
// re-arms after every accept; errors that indicate the socket was closed
// exit cleanly, others are logged and re-arm behind a rate limiter so a
// sustained run of transient failures cannot spin the CPU.
func (b *endpointBinding) acceptLoop() {
	limiter := rate.NewLimiter(rate.Limit(50), 10)
	for {
		select {
		case <-b.stop:
			return
		default:
		}
		conn, err := b.sock.Accept()
		if err != nil {
			select {
			case <-b.stop:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && !ne.Temporary() {
				return
			}
			_ = limiter.Wait(context.Background())
			b.log.Warnf("accept error on %v: %v", b.key, err)
			continue
		}
		hc, err := newHTTPConnection(conn, b)
		if err != nil {
			// Construction failure (e.g. TLS handshake) closes the
			// transport without registering it.
			conn.Close()
			b.log.Debugf("connection setup failed: %v", err)
			continue
		}
		b.trackConn(hc)
		go hc.serve()
	}
}
