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

// Chunk is the unit of transfer through the loader -> unpacker -> consumer
// pipeline. At any moment a Chunk is owned by exactly one holder: a slot
// (loaderOutbox, unpackerOutbox, recycling stack), a consumer that has
// called Read but not yet Recycle, or one of the loader/unpacker goroutines
// actively filling it. See spec.md §3 and §5.
//
// Chunk's storage is allocated once, at creation, to its worst-case size and
// reused for the database's lifetime; only the metadata buffer grows on
// demand (and smem, for a single record larger than maxWordsPerChunk). This mirrors the C core's single malloc-per-chunk design and
// keeps steady-state memory at O(nconsumers) chunks (spec.md §5
// "Backpressure").
type Chunk struct {
	// i0 is the absolute index of the first sequence in the chunk; N is
	// how many sequences it holds (0 means end-of-stream). pn is the
	// number of packed words actually loaded this iteration.
	i0 int64
	N  int
	pn int

	// smem holds, for this iteration, the unpacked digital residues of
	// all N sequences (each sentinel-delimited, adjacent sequences
	// sharing one sentinel byte) in its front region, and the packed
	// words this chunk was decoded from in its tail region (psqOff is
	// where that tail region starts for the current iteration). The
	// layout is sized so unpacking never lets its write cursor overtake
	// its read cursor; see unpacker.go and spec.md §4.3/§9.
	smem   []byte
	psqOff int

	// Per-sequence arrays, each logically of length N (capacity
	// maxSeqsPerChunk, reused across iterations).
	start  []int   // index into smem of sequence j's first residue
	length []int32 // residue count of sequence j
	name   [][]byte
	acc    [][]byte
	desc   [][]byte
	taxid  []int32

	// metadata is the raw bytes read verbatim from the metadata file for
	// this iteration's sequences; name/acc/desc above are sub-slices of
	// it. It grows by doubling when a batch needs more than it currently
	// holds.
	metadata []byte

	// next threads this chunk onto the recycling stack (see slot.go). It
	// is only ever touched while the recycling mutex is held.
	next *Chunk
}

// smemCap is the worst-case size of Chunk.smem: enough unpacked bytes for
// maxSeqsPerChunk sentinel-delimited sequences decoded from maxWordsPerChunk
// packed words. The packed words are read into the tail of this same region
// rather than into extra space after it. See spec.md §4.3.
const smemCap = residuesPerWord*maxWordsPerChunk + maxSeqsPerChunk + 1

// newChunk allocates a fresh chunk with every array sized to its fixed
// maximum, as spec.md §4.4 requires ("create: fresh allocation with all
// arrays sized to their fixed maxima"). Only the loader calls this.
func newChunk() *Chunk {
	return &Chunk{
		smem:     make([]byte, smemCap),
		start:    make([]int, maxSeqsPerChunk),
		length:   make([]int32, maxSeqsPerChunk),
		name:     make([][]byte, maxSeqsPerChunk),
		acc:      make([][]byte, maxSeqsPerChunk),
		desc:     make([][]byte, maxSeqsPerChunk),
		taxid:    make([]int32, maxSeqsPerChunk),
		metadata: make([]byte, initialMetaAlloc),
	}
}

// destroy releases everything the chunk owns. Only the loader calls this,
// and only during shutdown drain, after the chunk has been fully
// repatriated (spec.md §4.1 Close, §4.2 end-of-stream production). In a
// garbage-collected runtime there is no explicit free; destroy instead
// drops every reference so the backing arrays become collectible
// immediately rather than waiting on the chunk value itself to go away,
// which mirrors the C core's "release everything... in reverse order."
func (c *Chunk) destroy() {
	c.name = nil
	c.acc = nil
	c.desc = nil
	c.taxid = nil
	c.length = nil
	c.start = nil
	c.metadata = nil
	c.smem = nil
	c.next = nil
}

// ensureCapacity grows smem if this iteration's packed-word count exceeds
// the chunk's normal fixed capacity. The loader (spec.md §4.2 step 3) is
// allowed to emit a single oversized record when it alone exceeds
// maxWordsPerChunk; in practice the writer guarantees this never happens,
// but growing rather than overflowing keeps that guarantee from being a
// safety requirement on this reader.
func (c *Chunk) ensureCapacity(pn int) {
	need := residuesPerWord*pn + maxSeqsPerChunk + 1
	if len(c.smem) >= need {
		return
	}
	c.smem = make([]byte, need)
}

// growMetadata ensures the metadata buffer can hold at least n bytes,
// doubling its capacity as needed (spec.md §4.2 step 5: "growing the
// chunk's metadata buffer if necessary (doubling policy acceptable)").
func (c *Chunk) growMetadata(n int) {
	if cap(c.metadata) >= n {
		c.metadata = c.metadata[:n]
		return
	}
	newCap := cap(c.metadata)
	if newCap == 0 {
		newCap = initialMetaAlloc
	}
	for newCap < n {
		newCap *= 2
	}
	c.metadata = make([]byte, n, newCap)
}

// reset clears a chunk's logical contents without releasing its backing
// storage. The loader calls this on every chunk it pops off the recycling
// stack, and before turning a chunk into an end-of-stream chunk.
func (c *Chunk) reset() {
	c.i0 = 0
	c.N = 0
	c.pn = 0
	c.psqOff = 0
}

// I0 returns the absolute sequence index of the chunk's first sequence.
func (c *Chunk) I0() int64 { return c.i0 }

// Len returns the number of sequences in the chunk. N == 0 marks end-of-stream
// (spec.md §3 invariant 4).
func (c *Chunk) Len() int { return c.N }

// L returns the residue count (length) of sequence j within the chunk.
func (c *Chunk) L(j int) int32 { return c.length[j] }

// Name, Accession, Description return sequence j's metadata strings.
func (c *Chunk) Name(j int) []byte        { return c.name[j] }
func (c *Chunk) Accession(j int) []byte   { return c.acc[j] }
func (c *Chunk) Description(j int) []byte { return c.desc[j] }

// TaxID returns sequence j's taxonomy id, or -1 if unknown.
func (c *Chunk) TaxID(j int) int32 { return c.taxid[j] }

// Residues returns the L(j) digital residues of sequence j, excluding the
// bounding sentinels, each a value in 0..K-1.
func (c *Chunk) Residues(j int) []byte {
	s := c.start[j]
	return c.smem[s : s+int(c.length[j])]
}

// Dsq returns sequence j's 1-indexed, sentinel-bounded residue buffer:
// position 0 is the leading sentinel, 1..L are residues, L+1 is the
// trailing sentinel (spec.md §6 "Digital residue alphabet"). This is the
// closest Go analogue to the C API's raw dsq pointer.
func (c *Chunk) Dsq(j int) []byte {
	s := c.start[j]
	return c.smem[s-1 : s+int(c.length[j])+1]
}
