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
	"os"
	"testing"

	"github.com/biodsq/dsqdata/alphabet"
)

// fixtureSeq is one record of a synthetic database built by writeFixtureDB.
// This mirrors the writer's job described (and put out of scope) by
// spec.md §6; it exists purely to drive the property tests of spec.md §8
// and is not a product deliverable (SPEC_FULL.md §6).
type fixtureSeq struct {
	name, acc, desc string
	taxid           int32
	residues        string // letters from alphabet.NewAmino().Sym
}

// writeFixtureDB packs seqs into a three-file (+ stub) database rooted at
// dir/base, using exactly the wire format spec.md §6 and SPEC_FULL.md §4
// describe, and returns the base path Open expects.
func writeFixtureDB(t *testing.T, dir, base string, seqs []fixtureSeq) string {
	t.Helper()
	amino := alphabet.NewAmino()
	code := make(map[byte]byte, len(amino.Sym))
	for i, s := range amino.Sym {
		code[s] = byte(i)
	}

	var idx, meta, seq bytes.Buffer

	hdr := indexHeader{Magic: indexMagic, Alpha: byte(alphabet.Amino), Version: indexVersion}
	mustWrite(t, &idx, hdr.Magic)
	idx.WriteByte(hdr.Alpha)
	idx.WriteByte(0)
	mustWrite(t, &idx, hdr.Version)

	var metaEnd, psqEnd int64
	for _, s := range seqs {
		meta.WriteString(s.name)
		meta.WriteByte(0)
		meta.WriteString(s.acc)
		meta.WriteByte(0)
		meta.WriteString(s.desc)
		meta.WriteByte(0)
		mustWrite(t, &meta, s.taxid)
		metaEnd = int64(meta.Len())

		packSequence(&seq, s.residues, code)
		psqEnd = int64(seq.Len() / 4)

		mustWrite(t, &idx, metaEnd)
		mustWrite(t, &idx, psqEnd)
	}

	basePath := dir + string(os.PathSeparator) + base
	writeFile(t, basePath, []byte("dsqdata database stub; human-readable only\n"))
	writeFile(t, basePath+indexSuffix, idx.Bytes())
	writeFile(t, basePath+metaSuffix, meta.Bytes())
	writeFile(t, basePath+seqSuffix, seq.Bytes())
	return basePath
}

// packSequence appends the 5-bit-packed words for one sequence's residues
// to buf, following spec.md §6's packed-word layout and the decode rules of
// spec.md §4.3 (last word's end-of-sequence bit set, unused trailing slots
// filled with the packed-sentinel value 31).
func packSequence(buf *bytes.Buffer, residues string, code map[byte]byte) {
	l := len(residues)
	nWords := (l + residuesPerWord - 1) / residuesPerWord
	if nWords == 0 {
		nWords = 1
	}
	for w := 0; w < nWords; w++ {
		base := w * residuesPerWord
		remaining := l - base
		var word uint32
		if w == nWords-1 {
			word |= eosBit
		}
		for slot := 0; slot < residuesPerWord; slot++ {
			var field byte
			if slot < remaining {
				field = code[residues[base+slot]]
			} else {
				field = packedSentinel
			}
			shift := uint(25 - 5*slot)
			word |= uint32(field) << shift
		}
		var wbuf [4]byte
		binary.LittleEndian.PutUint32(wbuf[:], word)
		buf.Write(wbuf[:])
	}
}

func mustWrite(t *testing.T, buf *bytes.Buffer, v interface{}) {
	t.Helper()
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}
