// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dsqdata

import (
	"bytes"
	"encoding/binary"

	"github.com/grailbio/base/errors"

	"github.com/biodsq/dsqdata/alphabet"
)

// unpacker is the thread described in spec.md §4.3: it resolves metadata
// pointers and expands packed 5-bit residues into digital residues in
// place, never performing I/O itself.
type unpacker struct {
	in      *outbox
	out     *outbox
	errOnce *errors.Once
}

func newUnpacker(in, out *outbox, errOnce *errors.Once) *unpacker {
	return &unpacker{in: in, out: out, errOnce: errOnce}
}

// run is the unpacker's main loop. On an N=0 chunk it forwards the
// end-of-stream signal unchanged and exits.
func (u *unpacker) run() {
	for {
		c := u.in.take()
		if c.N == 0 {
			u.out.put(c)
			return
		}
		if err := u.resolveMetadata(c); err != nil {
			u.fail(err, c)
			return
		}
		if err := u.unpackResidues(c); err != nil {
			u.fail(err, c)
			return
		}
		u.out.put(c)
	}
}

func (u *unpacker) fail(err error, c *Chunk) {
	u.errOnce.Set(err)
	c.reset()
	c.N = 0
	c.pn = 0
	u.out.put(c)
}

// resolveMetadata implements spec.md §4.3 "Metadata resolution": walk the
// metadata buffer once, splicing name/accession/description sub-slices and
// reading each sequence's taxonomy id.
func (u *unpacker) resolveMetadata(c *Chunk) error {
	cursor := 0
	for j := 0; j < c.N; j++ {
		name, next, err := splitNulString(c.metadata, cursor)
		if err != nil {
			return err
		}
		c.name[j] = name
		cursor = next

		acc, next, err := splitNulString(c.metadata, cursor)
		if err != nil {
			return err
		}
		c.acc[j] = acc
		cursor = next

		desc, next, err := splitNulString(c.metadata, cursor)
		if err != nil {
			return err
		}
		c.desc[j] = desc
		cursor = next

		if cursor+4 > len(c.metadata) {
			return errCorrupt("metadata truncated before taxid of sequence %d", c.i0+int64(j))
		}
		c.taxid[j] = int32(binary.LittleEndian.Uint32(c.metadata[cursor : cursor+4]))
		cursor += 4
	}
	if cursor != len(c.metadata) {
		return errCorrupt("metadata cursor mismatch: consumed %d bytes, chunk carries %d", cursor, len(c.metadata))
	}
	return nil
}

// splitNulString returns the bytes of a NUL-terminated string starting at
// off, and the offset just past its terminator.
func splitNulString(buf []byte, off int) ([]byte, int, error) {
	i := bytes.IndexByte(buf[off:], 0)
	if i < 0 {
		return nil, 0, errCorrupt("metadata string starting at offset %d has no terminator", off)
	}
	return buf[off : off+i], off + i + 1, nil
}

// unpackResidues implements spec.md §4.3 "Sequence unpacking (in place)".
// The packed words live at c.smem[c.psqOff:] and are read into a local
// before any byte at or after the current write cursor is overwritten,
// which is the aliasing invariant that makes in-place unpacking safe (see
// spec.md §4.3, §9). The sizing guaranteed by ensureCapacity/newChunk keeps
// the write cursor from ever overtaking the read cursor.
func (u *unpacker) unpackResidues(c *Chunk) error {
	pos := 0
	c.smem[pos] = alphabet.Sentinel
	pos++
	seqIdx := 0
	c.start[0] = pos

	for w := 0; w < c.pn; w++ {
		off := c.psqOff + 4*w
		word := binary.LittleEndian.Uint32(c.smem[off : off+4])
		eos := word&eosBit != 0

		if !eos {
			for shift := 25; shift >= 0; shift -= 5 {
				residue := byte((word >> uint(shift)) & residueFieldMask)
				if residue == packedSentinel {
					return errCorrupt("packed sentinel in non-terminal word %d of chunk starting at %d", w, c.i0)
				}
				c.smem[pos] = residue
				pos++
			}
			continue
		}

		for shift := 25; shift >= 0; shift -= 5 {
			residue := byte((word >> uint(shift)) & residueFieldMask)
			if residue == packedSentinel {
				break
			}
			c.smem[pos] = residue
			pos++
		}
		c.smem[pos] = alphabet.Sentinel
		c.length[seqIdx] = int32(pos - c.start[seqIdx])
		pos++
		seqIdx++
		if seqIdx < c.N {
			c.start[seqIdx] = pos
		}
	}

	if seqIdx != c.N {
		return errCorrupt("expected %d sequences in chunk starting at %d, decoded %d", c.N, c.i0, seqIdx)
	}
	return nil
}
