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
	"encoding/binary"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/stretchr/testify/require"
)

func newTestChunk(pn, n int) *Chunk {
	c := newChunk()
	c.ensureCapacity(pn)
	c.psqOff = len(c.smem) - 4*pn
	c.pn = pn
	c.N = n
	return c
}

func putWord(c *Chunk, i int, w uint32) {
	binary.LittleEndian.PutUint32(c.smem[c.psqOff+4*i:c.psqOff+4*i+4], w)
}

func TestUnpackResiduesNonTerminalSentinelIsCorruption(t *testing.T) {
	c := newTestChunk(1, 1)
	// bit31 clear (not EOS), but a residue field is the reserved value 31.
	putWord(c, 0, uint32(packedSentinel)<<25)
	u := newUnpacker(nil, nil, &errors.Once{})
	err := u.unpackResidues(c)
	require.Error(t, err)
}

func TestUnpackResiduesSequenceCountMismatch(t *testing.T) {
	c := newTestChunk(1, 2) // claims 2 sequences but only 1 word, which
	// terminates the first sequence and leaves the second never started.
	putWord(c, 0, eosBit|(packedSentinel<<25)) // empty sequence: first field is the sentinel
	u := newUnpacker(nil, nil, &errors.Once{})
	err := u.unpackResidues(c)
	require.Error(t, err)
}

func TestResolveMetadataCursorMismatch(t *testing.T) {
	c := newTestChunk(0, 1)
	c.growMetadata(4)
	copy(c.metadata, []byte{0, 0, 0, 0}) // name/acc/desc all empty, no taxid
	u := newUnpacker(nil, nil, &errors.Once{})
	err := u.resolveMetadata(c)
	require.Error(t, err)
}

func TestResolveMetadataHappyPath(t *testing.T) {
	c := newTestChunk(0, 1)
	meta := append([]byte("sp1\x00acc1\x00desc here\x00"), 0, 0, 0, 0)
	c.growMetadata(len(meta))
	copy(c.metadata, meta)
	u := newUnpacker(nil, nil, &errors.Once{})
	require.NoError(t, u.resolveMetadata(c))
	require.Equal(t, "sp1", string(c.Name(0)))
	require.Equal(t, "acc1", string(c.Accession(0)))
	require.Equal(t, "desc here", string(c.Description(0)))
	require.EqualValues(t, 0, c.TaxID(0))
}
