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
	"bytes"
	"compress/flate"
	"io"
)

// deflateTrailer is the 4-byte sequence RFC 7692 §7.2.2 says to strip
// after compressing a message and re-append before inflating it, so the
// flate reader does not see an unexpected EOF.
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// Compressor wraps a raw DEFLATE stream (no zlib header) for one
// direction of one session. If noContextTakeover is set the
// flate.Writer is recreated for every message instead of Reset, matching
// the semantics of "state does not persist across messages".
type Compressor struct {
	w                 *flate.Writer
	noContextTakeover bool
}

// NewCompressor builds a Compressor; windowBits is accepted for parity
// with the negotiated parameters but compress/flate does not expose a
// window-size knob, so it is not applied to the stream.
func NewCompressor(noContextTakeover bool, _ int) *Compressor {
	return &Compressor{noContextTakeover: noContextTakeover}
}

// CompressMessage compresses the whole message in one shot and strips
// the trailing 0x00 0x00 0xff 0xff bytes.
func (c *Compressor) CompressMessage(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if c.w == nil || c.noContextTakeover {
		c.w = newFlateWriter(&buf)
	} else {
		c.w.Reset(&buf)
	}
	if _, err := c.w.Write(payload); err != nil {
		return nil, newError(KindInternal, err.Error())
	}
	if err := c.w.Flush(); err != nil {
		return nil, newError(KindInternal, err.Error())
	}
	out := buf.Bytes()
	if bytes.HasSuffix(out, deflateTrailer) {
		out = out[:len(out)-len(deflateTrailer)]
	}
	// Copy out of the buffer before it's reused by a later call.
	res := make([]byte, len(out))
	copy(res, out)
	return res, nil
}

func newFlateWriter(w io.Writer) *flate.Writer {
	fw, _ := flate.NewWriter(w, flate.BestSpeed)
	return fw
}

// Decompressor is the receive-side counterpart of Compressor.
type Decompressor struct {
	r                 io.ReadCloser
	noContextTakeover bool
}

// NewDecompressor builds a Decompressor; windowBits is accepted for
// parity with the negotiated parameters, see NewCompressor.
func NewDecompressor(noContextTakeover bool, _ int) *Decompressor {
	return &Decompressor{noContextTakeover: noContextTakeover}
}

// DecompressMessage appends the RFC 7692 trailer to payload and inflates
// it. When noContextTakeover is in effect the inflater is reset (or
// recreated) after every call.
func (d *Decompressor) DecompressMessage(payload []byte) ([]byte, error) {
	buf := append(append([]byte{}, payload...), deflateTrailer...)
	// An empty final stored block after the trailer ends the stream, so the
	// flate reader stops with io.EOF instead of io.ErrUnexpectedEOF.
	buf = append(buf, 0x01, 0x00, 0x00, 0xff, 0xff)
	br := bytes.NewReader(buf)
	if d.r == nil {
		d.r = flate.NewReader(br)
	} else if resetter, ok := d.r.(flate.Resetter); ok {
		if err := resetter.Reset(br, nil); err != nil {
			return nil, newError(KindInternal, err.Error())
		}
	} else {
		d.r = flate.NewReader(br)
	}
	out, err := io.ReadAll(d.r)
	if err != nil {
		return nil, newError(KindInternal, err.Error())
	}
	if d.noContextTakeover {
		d.r.Close()
		d.r = nil
	}
	return out, nil
}
