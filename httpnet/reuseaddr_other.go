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

//go:build !linux

package httpnet

import "net"

// listenTCPReuseAddr falls back to a plain net.Listen on platforms where
// this package does not implement the SO_REUSEADDR control hook; Go's
// listener already sets SO_REUSEADDR by default on most non-Windows
// platforms, so this is a no-op rather than a functional gap.
func listenTCPReuseAddr(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
