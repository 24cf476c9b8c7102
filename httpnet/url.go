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

import "strings"

// normalizePath lower-cases nothing (paths are case-sensitive); it maps
// "" to "/" and appends a trailing slash when one is missing. Repeated
// slashes are left as they are.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// splitHostPort separates "host:port" allowing host to itself be "*" or
// "+", which net.SplitHostPort would otherwise treat as an ordinary DNS
// label (harmless, but centralizing the split keeps prefix.go readable).
func splitHostPort(hostport string) (host, port string) {
	idx := strings.LastIndexByte(hostport, ':')
	if idx < 0 {
		return hostport, ""
	}
	return hostport[:idx], hostport[idx+1:]
}
