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
	"io"
	"os"
)

// inMemoryLimit is the point at which a reassembled message spills from
// memory to a temporary file.
const inMemoryLimit = 1 << 20

// payloadStore accumulates the fragments of one logical message. It
// starts purely in memory and lazily spills to a backing temp file once
// inMemoryLimit is exceeded, so a pathological number of large messages
// cannot pin unbounded memory.
type payloadStore struct {
	mem     []byte
	spilled bool
	file    *os.File
	size    int64
}

func newPayloadStore() *payloadStore { return &payloadStore{} }

// Append adds b to the accumulator, spilling to disk if this write would
// cross inMemoryLimit.
func (p *payloadStore) Append(b []byte) error {
	if !p.spilled && len(p.mem)+len(b) > inMemoryLimit {
		if err := p.spillToDisk(); err != nil {
			return newError(KindInternal, err.Error())
		}
	}
	p.size += int64(len(b))
	if p.spilled {
		_, err := p.file.Write(b)
		return err
	}
	p.mem = append(p.mem, b...)
	return nil
}

func (p *payloadStore) spillToDisk() error {
	f, err := os.CreateTemp("", "corews-ws-payload-*")
	if err != nil {
		return err
	}
	if len(p.mem) > 0 {
		if _, err := f.Write(p.mem); err != nil {
			f.Close()
			os.Remove(f.Name())
			return err
		}
	}
	p.mem = nil
	p.file = f
	p.spilled = true
	return nil
}

// Size returns the total number of bytes appended so far.
func (p *payloadStore) Size() int64 { return p.size }

// Bytes returns the complete accumulated payload, reading back the
// spilled file if one was used. After Bytes is called the store should
// be discarded via Close.
func (p *payloadStore) Bytes() ([]byte, error) {
	if !p.spilled {
		return p.mem, nil
	}
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(p.file)
}

// Close releases the backing temp file, if any.
func (p *payloadStore) Close() error {
	if p.file == nil {
		return nil
	}
	name := p.file.Name()
	err := p.file.Close()
	os.Remove(name)
	return err
}
