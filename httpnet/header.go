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
	"fmt"
	"strings"
)

// reservedHeaders cannot be set through Header.Set/Add by general-purpose
// API consumers; the connection state machine writes them directly.
var reservedHeaders = map[string]bool{
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
	"www-authenticate":  true,
}

type headerEntry struct {
	Name  string
	Value string
}

// Header is an ordered multi-map of header entries with case-insensitive
// name lookup, matching RFC 7230's header-field semantics: a name may
// appear more than once and order of like-named values must be preserved.
type Header struct {
	entries []headerEntry
}

// NewHeader returns an empty header multimap.
func NewHeader() *Header { return &Header{} }

// Get returns the first value for name, or "" if absent.
func (h *Header) Get(name string) string {
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Value
		}
	}
	return ""
}

// Values returns every value stored under name, in insertion order.
func (h *Header) Values(name string) []string {
	var out []string
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			out = append(out, e.Value)
		}
	}
	return out
}

// Has reports whether name is present at all.
func (h *Header) Has(name string) bool {
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return true
		}
	}
	return false
}

// Contains reports whether any comma/token-split value under name equals
// token case-insensitively. This is the check the handshake uses for
// Upgrade/Connection (RFC 6455 §4.2.1 points 3-4).
func (h *Header) Contains(name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// Add appends a new entry without removing existing ones under the same
// name. Reserved names are rejected.
func (h *Header) Add(name, value string) error {
	if reservedHeaders[strings.ToLower(name)] {
		return ErrReservedHeader
	}
	h.addUnchecked(name, value)
	return nil
}

// Set replaces every existing entry under name with a single value.
// Reserved names are rejected.
func (h *Header) Set(name, value string) error {
	if reservedHeaders[strings.ToLower(name)] {
		return ErrReservedHeader
	}
	h.setUnchecked(name, value)
	return nil
}

// Del removes every entry under name.
func (h *Header) Del(name string) {
	out := h.entries[:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.Name, name) {
			out = append(out, e)
		}
	}
	h.entries = out
}

// addUnchecked and setUnchecked bypass the reserved-name guard; only the
// connection state machine calls these, for the handful of headers
// it alone is allowed to control.
func (h *Header) addUnchecked(name, value string) {
	h.entries = append(h.entries, headerEntry{Name: name, Value: value})
}

func (h *Header) setUnchecked(name, value string) {
	h.Del(name)
	h.addUnchecked(name, value)
}

// Entries returns a copy of the ordered (name, value) pairs, for encoding.
func (h *Header) Entries() []headerEntry {
	out := make([]headerEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// WriteTo renders the headers as CRLF-terminated "Name: Value" lines,
// without the trailing blank line that terminates a header block.
func (h *Header) WriteTo(sb *strings.Builder) {
	for _, e := range h.entries {
		sb.WriteString(e.Name)
		sb.WriteString(": ")
		sb.WriteString(e.Value)
		sb.WriteString("\r\n")
	}
}

// ParseHeaderLine parses one "Name: Value" line (already stripped of its
// trailing CRLF) and adds it to h. Continuation lines (leading whitespace)
// are folded onto the previous entry's value per RFC 7230 obsolete-fold
// handling.
func (h *Header) ParseHeaderLine(line string) error {
	if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		if len(h.entries) == 0 {
			return fmt.Errorf("header continuation with no preceding header")
		}
		last := &h.entries[len(h.entries)-1]
		last.Value += " " + strings.TrimSpace(line)
		return nil
	}
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return fmt.Errorf("malformed header line %q", line)
	}
	name := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return fmt.Errorf("empty header name")
	}
	h.addUnchecked(name, value)
	return nil
}

// Cookie is one name=value pair parsed out of a Cookie request header.
type Cookie struct {
	Name, Value string
}

// ParseCookie splits a Cookie header's value into its constituent pairs.
func ParseCookie(headerValue string) []Cookie {
	var out []Cookie
	for _, part := range strings.Split(headerValue, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			out = append(out, Cookie{Name: part})
			continue
		}
		out = append(out, Cookie{Name: part[:idx], Value: part[idx+1:]})
	}
	return out
}

// SetCookieOptions controls the attributes serialized by SetCookie.
type SetCookieOptions struct {
	Path, Domain, SameSite string
	Secure, HttpOnly       bool
	MaxAge                 int // seconds; 0 means "omit"
}

// SetCookie renders a single Set-Cookie header value for name=value with
// the given attributes.
func SetCookie(name, value string, opts SetCookieOptions) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('=')
	sb.WriteString(value)
	if opts.Path != "" {
		sb.WriteString("; Path=")
		sb.WriteString(opts.Path)
	}
	if opts.Domain != "" {
		sb.WriteString("; Domain=")
		sb.WriteString(opts.Domain)
	}
	if opts.MaxAge != 0 {
		fmt.Fprintf(&sb, "; Max-Age=%d", opts.MaxAge)
	}
	if opts.Secure {
		sb.WriteString("; Secure")
	}
	if opts.HttpOnly {
		sb.WriteString("; HttpOnly")
	}
	if opts.SameSite != "" {
		sb.WriteString("; SameSite=")
		sb.WriteString(opts.SameSite)
	}
	return sb.String()
}
