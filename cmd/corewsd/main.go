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

// Command corewsd is a tiny demonstration server: it serves one prefix
// over plain HTTP and upgrades any WebSocket handshake on it to an echo
// session, optionally behind Basic authentication. It exists so
// the httpnet and wsnet packages are exercised end to end by something
// buildable, the way nats-server's server package is exercised by
// nats-server's own main.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/corews/corews/httpnet"
	"github.com/corews/corews/wsnet"
)

func main() {
	addr := flag.String("addr", "*:8080", "bind host:port ('*' for all interfaces)")
	prefix := flag.String("prefix", "/echo/", "URI path this server answers on")
	user := flag.String("user", "", "if set, require Basic auth for this username")
	pass := flag.String("pass", "", "password for -user")
	flag.Parse()

	l := httpnet.NewListener()

	if *user != "" {
		l.SetAuth(httpnet.AuthConfig{
			Scheme: httpnet.SchemeBasic,
			Realm:  "corewsd",
			Resolve: func(username, realm string) (string, bool) {
				if username == *user {
					return *pass, true
				}
				return "", false
			},
		})
	} else {
		l.SetAuth(httpnet.AuthConfig{Scheme: httpnet.SchemeAnonymous})
	}

	l.SetUpgrader(wsnet.NewUpgrader(wsnet.ServerOptions{
		HandshakeOptions:  wsnet.HandshakeOptions{AllowDeflate: true},
		FragmentThreshold: 64 * 1024,
		PingInterval:      30 * time.Second,
		PongTimeout:       10 * time.Second,
		NewCallbacks: func(ctx *httpnet.HttpContext) wsnet.Callbacks {
			who := "anonymous"
			if ctx.Response.Principal != nil {
				who = ctx.Response.Principal.Name
			}
			var sess *wsnet.Session
			return wsnet.Callbacks{
				OnOpen: func(s *wsnet.Session) {
					sess = s
					fmt.Printf("session open for %s\n", who)
				},
				OnMessage: func(payload []byte, isText bool) {
					if sess == nil {
						return
					}
					if isText {
						sess.SendText(string(payload))
					} else {
						sess.SendBinary(payload)
					}
				},
				OnClose: func(code int, reason string, clean bool) {
					fmt.Printf("session closed for %s: code=%d clean=%v\n", who, code, clean)
				},
				OnError: func(err error) {
					fmt.Printf("session error for %s: %v\n", who, err)
				},
			}
		},
	}))

	if err := l.AddPrefix("http://" + *addr + *prefix); err != nil {
		panic(err)
	}
	l.Start()
	fmt.Printf("corewsd listening on %s%s\n", *addr, *prefix)

	for {
		ctx, err := l.GetContext(context.Background())
		if err != nil {
			continue
		}
		go handle(ctx)
	}
}

func handle(ctx *httpnet.HttpContext) {
	if wsnet.IsHandshake(ctx.Request) {
		if err := ctx.AcceptWebSocket(); err != nil {
			fmt.Printf("upgrade failed: %v\n", err)
			ctx.Response.SetStatusCode(400)
			ctx.Response.Write([]byte("websocket handshake rejected\n"))
			ctx.Close()
		}
		return
	}
	ctx.Response.SetStatusCode(426)
	ctx.Response.Write([]byte("this endpoint only serves WebSocket upgrades\n"))
	ctx.Close()
}
