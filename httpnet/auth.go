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
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/randutil"
)

// AuthScheme selects how a Listener authenticates inbound requests.
// Only RFC 2617 Basic and Digest are supported.
type AuthScheme int

const (
	SchemeAnonymous AuthScheme = iota
	SchemeNone
	SchemeBasic
	SchemeDigest
)

// CredentialResolver looks up the password for username in realm. ok is
// false if the user is unknown.
type CredentialResolver func(username, realm string) (password string, ok bool)

// AuthConfig configures Basic/Digest verification for a Listener.
type AuthConfig struct {
	Scheme  AuthScheme
	Realm   string
	Resolve CredentialResolver

	// nonces tracks the Digest nonces this config has issued, so a
	// response carrying a nonce we never generated (or one that has been
	// dropped) can be challenged again with stale="true" instead of
	// failing outright. Listener.SetAuth allocates it for Digest configs;
	// when it is nil, nonce provenance is not enforced.
	nonces *nonceStore
}

type nonceStore struct {
	mu sync.Mutex
	m  map[string]bool
}

func (n *nonceStore) add(nonce string) {
	n.mu.Lock()
	n.m[nonce] = true
	n.mu.Unlock()
}

func (n *nonceStore) known(nonce string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.m[nonce]
}

// errStaleNonce marks a Digest response whose credentials verified but
// whose nonce was not one of ours; the 401 challenge is reissued with
// stale="true" so the client can retry without reprompting the user.
var errStaleNonce = newError(KindAuthRequired, "stale digest nonce")

// cryptoRandomBytes draws n cryptographically random bytes via
// pion/randutil's crypto generator.
func cryptoRandomBytes(n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i += 8 {
		v, err := randutil.CryptoUint64()
		if err != nil {
			panic(err)
		}
		for j := 0; j < 8 && i+j < n; j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	return b
}

func randomHex(n int) string {
	return hex.EncodeToString(cryptoRandomBytes(n))
}

// challengeFor builds a fresh WWW-Authenticate header value for cfg's
// scheme: Basic carries only realm; Digest carries realm, nonce,
// algorithm=MD5 and qop=auth. stale marks a reissued Digest challenge
// after a response carried a nonce this config did not issue (issued
// nonces do not expire). No opaque parameter is included.
func (cfg *AuthConfig) challengeFor(stale bool) string {
	switch cfg.Scheme {
	case SchemeBasic:
		return fmt.Sprintf(`Basic realm=%q`, cfg.Realm)
	case SchemeDigest:
		nonce := randomHex(16)
		if cfg.nonces != nil {
			cfg.nonces.add(nonce)
		}
		v := fmt.Sprintf(`Digest realm=%q, nonce=%q, algorithm=MD5, qop="auth"`, cfg.Realm, nonce)
		if stale {
			v += `, stale="true"`
		}
		return v
	default:
		return ""
	}
}

// digestParams is the parsed Authorization header for a Digest response,
// keyed by lowercased token names.
type digestParams map[string]string

func parseDigestParams(value string) digestParams {
	value = strings.TrimPrefix(value, "Digest ")
	params := digestParams{}
	for _, part := range splitDigestParts(value) {
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(part[:idx]))
		v := strings.Trim(strings.TrimSpace(part[idx+1:]), `"`)
		params[k] = v
	}
	return params
}

// splitDigestParts splits on commas that are not inside a quoted value.
func splitDigestParts(s string) []string {
	var parts []string
	inQuotes := false
	start := 0
	for i, c := range s {
		switch c {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func md5hex(parts ...string) string {
	h := md5.New()
	h.Write([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(h.Sum(nil))
}

// digestResponse computes the RFC 2617 "response" value:
//
//	A1 = user:realm:password                     (or MD5(A1):nonce:cnonce for md5-sess)
//	A2 = method:uri                               (or method:uri:MD5(entity) for auth-int)
//	response = MD5(MD5(A1):nonce:(nc:cnonce:qop:)?MD5(A2))
func digestResponse(username, realm, password, method, uri, nonce, cnonce, nc, qop, algorithm, entityBody string) string {
	a1 := md5hex(username, realm, password)
	if strings.EqualFold(algorithm, "md5-sess") {
		a1 = md5hex(a1, nonce, cnonce)
	}
	var a2 string
	if strings.EqualFold(qop, "auth-int") {
		a2 = md5hex(method, uri, md5hex(entityBody))
	} else {
		a2 = md5hex(method, uri)
	}
	if qop != "" {
		return md5hex(a1, nonce, nc, cnonce, qop, a2)
	}
	return md5hex(a1, nonce, a2)
}

// verifyDigest checks the client's Authorization header against cfg's
// credential resolver, returning the verified username on success.
// Comparison of the recomputed and presented response is constant time.
// stale is true when the credentials verified but the presented nonce is
// not one this config issued, so the caller should rechallenge with
// stale="true".
func (cfg *AuthConfig) verifyDigest(header, method string) (name string, ok, stale bool) {
	p := parseDigestParams(header)
	username := p["username"]
	if username == "" {
		return "", false, false
	}
	password, resolved := cfg.Resolve(username, cfg.Realm)
	if !resolved {
		return "", false, false
	}
	want := digestResponse(username, p["realm"], password, method, p["uri"], p["nonce"], p["cnonce"], p["nc"], p["qop"], p["algorithm"], "")
	got := p["response"]
	if len(want) != len(got) {
		return "", false, false
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return "", false, false
	}
	if cfg.nonces != nil && !cfg.nonces.known(p["nonce"]) {
		return "", false, true
	}
	return username, true, false
}

// verifyBasic decodes and checks a "Basic <base64>" Authorization header.
func (cfg *AuthConfig) verifyBasic(header string) (string, bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", false
	}
	idx := strings.IndexByte(string(raw), ':')
	if idx < 0 {
		return "", false
	}
	username, password := string(raw[:idx]), string(raw[idx+1:])
	want, ok := cfg.Resolve(username, cfg.Realm)
	if !ok {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return "", false
	}
	return username, true
}

// authenticate applies cfg to req, returning the verified Principal (nil
// for Anonymous) or an error kind that maps to a 401/403 status.
func (cfg *AuthConfig) authenticate(req *Request) (*Principal, error) {
	switch cfg.Scheme {
	case SchemeAnonymous:
		return nil, nil
	case SchemeNone:
		return nil, newError(KindForbidden, "authentication disabled for this endpoint")
	case SchemeBasic:
		header := req.Header.Get("Authorization")
		if name, ok := cfg.verifyBasic(header); ok {
			return &Principal{Name: name, Scheme: SchemeBasic}, nil
		}
		return nil, newError(KindAuthRequired, "basic authentication required")
	case SchemeDigest:
		header := req.Header.Get("Authorization")
		name, ok, stale := cfg.verifyDigest(header, req.Method)
		if ok {
			return &Principal{Name: name, Scheme: SchemeDigest}, nil
		}
		if stale {
			return nil, errStaleNonce
		}
		return nil, newError(KindAuthRequired, "digest authentication required")
	default:
		return nil, newError(KindForbidden, "unknown authentication scheme")
	}
}
