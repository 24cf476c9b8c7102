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
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// LoadServerCertificate loads <folder>/<port>.cer and <folder>/<port>.key
// (raw DER, not PEM, so tls.LoadX509KeyPair does not apply)
// and returns the assembled tls.Certificate.
func LoadServerCertificate(folder string, port int) (tls.Certificate, error) {
	certPath := filepath.Join(folder, fmt.Sprintf("%d.cer", port))
	keyPath := filepath.Join(folder, fmt.Sprintf("%d.key", port))

	certDER, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	if _, err := x509.ParseCertificate(certDER); err != nil {
		return tls.Certificate{}, fmt.Errorf("parse %s: %w", certPath, err)
	}

	keyDER, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	key, err := parseDERPrivateKey(keyDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse %s: %w", keyPath, err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}, nil
}

// parseDERPrivateKey tries the private-key encodings DER key files are
// commonly found in, in order, since the DER key stream itself carries no
// tag identifying which it is.
func parseDERPrivateKey(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unrecognized private key DER encoding")
}

// WrapServerConn performs the server side of a TLS handshake over conn
// using cert, returning the wrapped connection once the handshake
// completes. The caller's HttpConnection must not touch conn again after
// this returns successfully.
func WrapServerConn(conn net.Conn, cert tls.Certificate) (net.Conn, error) {
	tconn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}})
	if err := tconn.Handshake(); err != nil {
		return nil, err
	}
	return tconn, nil
}

// ClientCertSelector chooses a client certificate to present, given the
// server's acceptable CA list; returning (nil, nil) sends none.
type ClientCertSelector func(acceptableCAs [][]byte) (*tls.Certificate, error)

// ServerCertValidator approves or rejects the server's certificate chain
// presented during a client-side handshake.
type ServerCertValidator func(rawCerts [][]byte) error

// DialTLSClient dials addr and performs a TLS handshake against
// serverName, honoring an optional client-certificate selector and
// server-certificate validator. It is primarily used by test harnesses
// exercising the server side of this package.
func DialTLSClient(addr, serverName string, selectCert ClientCertSelector, validateServer ServerCertValidator) (net.Conn, error) {
	cfg := &tls.Config{ServerName: serverName}
	if validateServer != nil {
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return validateServer(rawCerts)
		}
	}
	if selectCert != nil {
		cfg.GetClientCertificate = func(info *tls.CertificateRequestInfo) (*tls.Certificate, error) {
			var acceptable [][]byte
			for _, ca := range info.AcceptableCAs {
				acceptable = append(acceptable, ca)
			}
			cert, err := selectCert(acceptable)
			if err != nil {
				return nil, err
			}
			if cert == nil {
				return &tls.Certificate{}, nil
			}
			return cert, nil
		}
	}
	return tls.Dial("tcp", addr, cfg)
}
