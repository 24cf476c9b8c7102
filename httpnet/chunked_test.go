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
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

type ChunkedSuite struct{}

var _ = gc.Suite(&ChunkedSuite{})

func (s *ChunkedSuite) TestDecodesMultipleChunks(c *gc.C) {
	raw := "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	cr := newChunkedReader(br)
	out, err := io.ReadAll(cr)
	c.Assert(err, gc.IsNil)
	c.Assert(string(out), gc.Equals, "Wikipedia")
}

func (s *ChunkedSuite) TestIgnoresChunkExtension(c *gc.C) {
	raw := "3;ext=val\r\nfoo\r\n0\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	cr := newChunkedReader(br)
	out, err := io.ReadAll(cr)
	c.Assert(err, gc.IsNil)
	c.Assert(string(out), gc.Equals, "foo")
}

func (s *ChunkedSuite) TestDiscardsTrailerHeaders(c *gc.C) {
	raw := "3\r\nfoo\r\n0\r\nX-Trailer: ignored\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	cr := newChunkedReader(br)
	out, err := io.ReadAll(cr)
	c.Assert(err, gc.IsNil)
	c.Assert(string(out), gc.Equals, "foo")
}

func (s *ChunkedSuite) TestRejectsMalformedChunkSize(c *gc.C) {
	raw := "zz\r\nfoo\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	cr := newChunkedReader(br)
	_, err := io.ReadAll(cr)
	c.Assert(err, gc.NotNil)
	kind, ok := KindOf(err)
	c.Assert(ok, gc.Equals, true)
	c.Assert(kind, gc.Equals, KindBadRequest)
}

func (s *ChunkedSuite) TestRejectsOversizedChunkSizeLine(c *gc.C) {
	raw := strings.Repeat("a", maxChunkSizeLineLen+4) + "\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	cr := newChunkedReader(br)
	_, err := io.ReadAll(cr)
	c.Assert(err, gc.NotNil)
}

func (s *ChunkedSuite) TestWriterRoundTrip(c *gc.C) {
	var buf bytes.Buffer
	w := NewChunkedWriter(&buf)
	_, err := w.Write([]byte("Wiki"))
	c.Assert(err, gc.IsNil)
	_, err = w.Write([]byte("pedia"))
	c.Assert(err, gc.IsNil)
	c.Assert(w.Close(), gc.IsNil)

	cr := newChunkedReader(bufio.NewReader(&buf))
	out, err := io.ReadAll(cr)
	c.Assert(err, gc.IsNil)
	c.Assert(string(out), gc.Equals, "Wikipedia")
}

func (s *ChunkedSuite) TestWriterRejectsWriteAfterClose(c *gc.C) {
	var buf bytes.Buffer
	w := NewChunkedWriter(&buf)
	c.Assert(w.Close(), gc.IsNil)
	_, err := w.Write([]byte("x"))
	c.Assert(err, gc.Equals, io.ErrClosedPipe)
}
