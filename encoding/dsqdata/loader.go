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
	"io"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// loader is the thread (goroutine) described in spec.md §4.2: it owns the
// three backing file readers and a working window of index records, and is
// the sole creator and destroyer of Chunks.
type loader struct {
	idxR  io.Reader
	metaR io.Reader
	seqR  io.Reader

	nconsumers int
	maxChunks  int

	window   []indexRecord
	nidx     int
	psqLast  int64
	metaLast int64
	i0       int64

	nchunk    int // chunks currently allocated, bounded by maxChunks
	allocated int // chunks ever allocated, monotonic, for Stats/tests

	recycling *recyclingStack
	outbox    *outbox
	errOnce   *errors.Once

	bytesRead *int64 // atomic counter, shared with Reader.Stats
}

func newLoader(idxR, metaR, seqR io.Reader, nconsumers int, recycling *recyclingStack, outbox *outbox, errOnce *errors.Once, bytesRead *int64) *loader {
	return &loader{
		idxR:       idxR,
		metaR:      metaR,
		seqR:       seqR,
		nconsumers: nconsumers,
		maxChunks:  nconsumers + 2,
		window:     make([]indexRecord, maxSeqsPerChunk),
		psqLast:    0,
		metaLast:   0,
		recycling:  recycling,
		outbox:     outbox,
		errOnce:    errOnce,
		bytesRead:  bytesRead,
	}
}

// run is the loader's main loop (spec.md §4.2). It runs until it has both
// produced the end-of-stream chunk and repatriated every chunk it ever
// allocated.
func (l *loader) run() {
	for {
		c := l.acquireChunk()

		if !l.refillWindow() {
			c.reset()
			c.N = 0
			c.pn = 0
			l.outbox.put(c)
			l.drainAndExit()
			return
		}

		nload := l.chooseNload()

		if err := l.loadPacked(c, nload); err != nil {
			l.fail(err, c)
			return
		}
		if err := l.loadMetadata(c, nload); err != nil {
			l.fail(err, c)
			return
		}

		c.i0 = l.i0
		c.N = nload
		l.outbox.put(c)
		l.advance(nload)
	}
}

// acquireChunk implements spec.md §4.2 step 1: allocate while under the
// nconsumers+2 cap, otherwise block on the recycling stack.
func (l *loader) acquireChunk() *Chunk {
	if l.nchunk < l.maxChunks {
		l.nchunk++
		l.allocated++
		return newChunk()
	}
	c := l.recycling.popWait()
	c.reset()
	return c
}

// refillWindow implements spec.md §4.2 step 2. Unused records from the
// previous iteration are already sitting at window[0:nidx] (advance leaves
// them there); this reads more to fill the window up to maxSeqsPerChunk and
// validates that offsets stay monotonically non-decreasing (spec.md §7,
// corruption: "an index offset is non-monotone"). Returns false when there
// is nothing left (end of index file) or after recording a read or
// corruption error in errOnce.
func (l *loader) refillWindow() bool {
	want := maxSeqsPerChunk - l.nidx
	prevMeta, prevPsq := l.metaLast, l.psqLast
	if l.nidx > 0 {
		prevMeta = l.window[l.nidx-1].MetadataEnd
		prevPsq = l.window[l.nidx-1].PsqEnd
	}
	for want > 0 {
		var buf [indexRecordSize]byte
		n, err := io.ReadFull(l.idxR, buf[:])
		if err == io.EOF && n == 0 {
			break
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				l.errOnce.Set(errCorrupt("index file truncated mid-record"))
				return false
			}
			l.errOnce.Set(errIO("index", err))
			return false
		}
		rec := indexRecord{
			MetadataEnd: int64(binary.LittleEndian.Uint64(buf[0:8])),
			PsqEnd:      int64(binary.LittleEndian.Uint64(buf[8:16])),
		}
		if rec.MetadataEnd < prevMeta || rec.PsqEnd < prevPsq {
			l.errOnce.Set(errCorrupt("non-monotone index offsets at record %d", l.i0+int64(l.nidx)))
			return false
		}
		prevMeta, prevPsq = rec.MetadataEnd, rec.PsqEnd
		l.window[l.nidx] = rec
		l.nidx++
		want--
	}
	return l.nidx > 0
}

// chooseNload implements spec.md §4.2 step 3: a binary search over the
// window for the largest prefix whose packed-word span fits within
// maxWordsPerChunk, taking at least 1 record even if it alone exceeds the
// cap.
func (l *loader) chooseNload() int {
	lo, hi, best := 1, l.nidx, 1
	for lo <= hi {
		mid := (lo + hi) / 2
		if l.window[mid-1].PsqEnd-l.psqLast <= maxWordsPerChunk {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// loadPacked implements spec.md §4.2 step 4.
func (l *loader) loadPacked(c *Chunk, nload int) error {
	pn := l.window[nload-1].PsqEnd - l.psqLast
	if pn < 0 {
		return errCorrupt("negative packed-word span before record %d", l.i0+int64(nload))
	}
	c.ensureCapacity(int(pn))
	psqOff := len(c.smem) - 4*int(pn)
	c.psqOff = psqOff
	c.pn = int(pn)
	n, err := io.ReadFull(l.seqR, c.smem[psqOff:psqOff+4*int(pn)])
	if l.bytesRead != nil {
		atomic.AddInt64(l.bytesRead, int64(n))
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return errCorrupt("sequence file shorter than index promises (wanted %d words)", pn)
	}
	if err != nil {
		return errIO("sequence", err)
	}
	return nil
}

// loadMetadata implements spec.md §4.2 step 5.
func (l *loader) loadMetadata(c *Chunk, nload int) error {
	n := l.window[nload-1].MetadataEnd - l.metaLast
	if n < 0 {
		return errCorrupt("negative metadata span before record %d", l.i0+int64(nload))
	}
	c.growMetadata(int(n))
	read, err := io.ReadFull(l.metaR, c.metadata)
	if l.bytesRead != nil {
		atomic.AddInt64(l.bytesRead, int64(read))
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return errCorrupt("metadata file shorter than index promises (wanted %d bytes)", n)
	}
	if err != nil {
		return errIO("metadata", err)
	}
	return nil
}

// advance implements spec.md §4.2 step 7: update cursors and shift
// unconsumed window records to the front for the next iteration.
func (l *loader) advance(nload int) {
	l.psqLast = l.window[nload-1].PsqEnd
	l.metaLast = l.window[nload-1].MetadataEnd
	l.i0 += int64(nload)
	remaining := l.nidx - nload
	copy(l.window[0:remaining], l.window[nload:l.nidx])
	l.nidx = remaining
}

// fail implements the error-propagation contract of spec.md §4.3/§7: record
// the error, publish an empty end-of-stream chunk so consumers exit
// cleanly, then drain.
func (l *loader) fail(err error, c *Chunk) {
	l.errOnce.Set(err)
	c.reset()
	c.N = 0
	c.pn = 0
	l.outbox.put(c)
	l.drainAndExit()
}

// drainAndExit implements spec.md §4.2's shutdown drain: repeatedly wait on
// the recycling stack, pop every chunk currently there, and destroy it,
// until every chunk this loader ever allocated (including the end-of-stream
// sentinel, which the Reader recycles back in Read) has come home.
func (l *loader) drainAndExit() {
	for l.nchunk > 0 {
		c := l.recycling.popWait()
		c.destroy()
		l.nchunk--
	}
	if log.At(log.Debug) {
		log.Debug.Printf("dsqdata: loader drained, all chunks freed")
	}
}
