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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A highly repetitive message must round-trip byte-identical and
// compress well below its raw size.
func TestDeflateRoundTripShrinksRepeatedText(t *testing.T) {
	msg := strings.Repeat("a", 2000)
	c := NewCompressor(false, 15)
	compressed, err := c.CompressMessage([]byte(msg))
	require.NoError(t, err)
	assert.Less(t, len(compressed), 200)

	d := NewDecompressor(false, 15)
	out, err := d.DecompressMessage(compressed)
	require.NoError(t, err)
	assert.Equal(t, msg, string(out))
}

func TestDeflateContextPersistsAcrossMessages(t *testing.T) {
	c := NewCompressor(false, 15)
	d := NewDecompressor(false, 15)
	for _, msg := range []string{"hello world", "hello world again", "hello world once more"} {
		compressed, err := c.CompressMessage([]byte(msg))
		require.NoError(t, err)
		out, err := d.DecompressMessage(compressed)
		require.NoError(t, err)
		assert.Equal(t, msg, string(out))
	}
}

func TestDeflateNoContextTakeoverStillRoundTrips(t *testing.T) {
	c := NewCompressor(true, 15)
	d := NewDecompressor(true, 15)
	for _, msg := range []string{"first message", "second message"} {
		compressed, err := c.CompressMessage([]byte(msg))
		require.NoError(t, err)
		out, err := d.DecompressMessage(compressed)
		require.NoError(t, err)
		assert.Equal(t, msg, string(out))
	}
}

func TestDeflateEmptyMessageRoundTrips(t *testing.T) {
	c := NewCompressor(false, 15)
	d := NewDecompressor(false, 15)
	compressed, err := c.CompressMessage(nil)
	require.NoError(t, err)
	out, err := d.DecompressMessage(compressed)
	require.NoError(t, err)
	assert.Empty(t, out)
}
