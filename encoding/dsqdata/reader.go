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

// Package dsqdata streams a large on-disk, bit-packed biological sequence
// database into a pipeline of cooperating goroutines, delivering decoded
// chunks to one or more consumer goroutines with minimal copying and
// bounded memory. See spec.md and SPEC_FULL.md for the full design.
package dsqdata

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"

	"github.com/biodsq/dsqdata/alphabet"
	"github.com/biodsq/dsqdata/internal/fadvise"
)

// Stats is a lightweight, additive bookkeeping summary of one Reader's
// lifetime. It is only meaningful to read after Close (SPEC_FULL.md §7).
type Stats struct {
	Chunks           int64
	Sequences        int64
	BytesRead        int64
	ChunksAllocated  int // peak chunk count the loader ever allocated; <= nconsumers+2 (spec.md §3 invariant 1)
}

// Reader is the database reader handle of spec.md §4.1. The zero value is
// not usable; construct one with Open.
type Reader struct {
	basename string
	alpha    *alphabet.Alphabet

	idxFile  file.File
	metaFile file.File
	seqFile  file.File

	loaderOutbox *outbox
	consumerBox  *outbox
	recycling    *recyclingStack
	errOnce      errors.Once

	loaderDone   chan struct{}
	unpackerDone chan struct{}
	ld           *loader // retained only so Close can read its final allocation count

	mu        sync.Mutex
	closed    bool
	bytesRead int64
	stats     Stats
}

// Open opens the three backing files of the database named baseName and
// starts the loader and unpacker goroutines. nconsumers must be >= 1 and
// should equal the number of goroutines that will call Read concurrently.
//
// alpha implements the partial-bypass convention of spec.md §4.1: pass nil
// to have Open infer the alphabet from the database (the returned
// *alphabet.Alphabet is then owned by the caller); pass a concrete alphabet
// to have Open validate it against the database, failing with an
// alphabet-incompatible error on mismatch.
//
// Open always returns a non-nil *Reader, even on failure (spec.md §6
// "Open on failure still returns a reader handle holding a human-readable
// message"), so that Close can always be called safely; the one exception
// is an allocation failure, which in Go surfaces as a runtime panic rather
// than a returned error and so never reaches this return statement at all.
func Open(ctx context.Context, baseName string, alpha *alphabet.Alphabet, nconsumers int) (*Reader, *alphabet.Alphabet, error) {
	r := &Reader{basename: baseName}

	if nconsumers < 1 {
		err := errors.E(errors.Invalid, "dsqdata: nconsumers must be >= 1")
		r.errOnce.Set(err)
		return r, nil, err
	}

	idxFile, err := file.Open(ctx, baseName+indexSuffix)
	if err != nil {
		err = errNotFound(baseName+indexSuffix, err)
		r.errOnce.Set(err)
		return r, nil, err
	}
	r.idxFile = idxFile

	metaFile, err := file.Open(ctx, baseName+metaSuffix)
	if err != nil {
		err = errNotFound(baseName+metaSuffix, err)
		r.errOnce.Set(err)
		_ = r.idxFile.Close(ctx)
		return r, nil, err
	}
	r.metaFile = metaFile

	seqFile, err := file.Open(ctx, baseName+seqSuffix)
	if err != nil {
		err = errNotFound(baseName+seqSuffix, err)
		r.errOnce.Set(err)
		_ = r.idxFile.Close(ctx)
		_ = r.metaFile.Close(ctx)
		return r, nil, err
	}
	r.seqFile = seqFile

	idxR := idxFile.Reader(ctx)
	var hdr [indexHeaderSize]byte
	if _, err := io.ReadFull(idxR, hdr[:]); err != nil {
		err = errFormat("cannot read index header of %s: %v", baseName+indexSuffix, err)
		r.errOnce.Set(err)
		r.closeFiles(ctx)
		return r, nil, err
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	switch magic {
	case indexMagic:
		// native byte order, proceed.
	case indexMagicSwapped:
		err := errFormat("%s was written on a machine of different byte order", baseName+indexSuffix)
		r.errOnce.Set(err)
		r.closeFiles(ctx)
		return r, nil, err
	default:
		err := errFormat("%s has bad magic word; not a dsqdata index file", baseName+indexSuffix)
		r.errOnce.Set(err)
		r.closeFiles(ctx)
		return r, nil, err
	}
	dbAlpha := alphabet.ForType(alphabet.Type(hdr[4]))
	if dbAlpha == nil {
		err := errFormat("%s names an unsupported alphabet type %d", baseName+indexSuffix, hdr[4])
		r.errOnce.Set(err)
		r.closeFiles(ctx)
		return r, nil, err
	}

	var outAlpha *alphabet.Alphabet
	if alpha == nil {
		outAlpha = dbAlpha
	} else if !alpha.Equal(dbAlpha) {
		err := errAlphabet("caller-supplied alphabet %s does not match database alphabet %s", alpha.Kind, dbAlpha.Kind)
		r.errOnce.Set(err)
		r.closeFiles(ctx)
		return r, nil, err
	} else {
		outAlpha = alpha
	}
	r.alpha = outAlpha

	fadvise.Hint(baseName + seqSuffix)

	r.loaderOutbox = newOutbox()
	r.consumerBox = newOutbox()
	r.recycling = newRecyclingStack()
	r.loaderDone = make(chan struct{})
	r.unpackerDone = make(chan struct{})

	ld := newLoader(idxR, metaFile.Reader(ctx), seqFile.Reader(ctx), nconsumers, r.recycling, r.loaderOutbox, &r.errOnce, &r.bytesRead)
	up := newUnpacker(r.loaderOutbox, r.consumerBox, &r.errOnce)
	r.ld = ld

	go func() {
		defer close(r.loaderDone)
		ld.run()
	}()
	go func() {
		defer close(r.unpackerDone)
		up.run()
	}()

	if log.At(log.Debug) {
		log.Debug.Printf("dsqdata: opened %s, alphabet=%s, nconsumers=%d", baseName, outAlpha.Kind, nconsumers)
	}
	return r, outAlpha, nil
}

// Read blocks until the next chunk is available and returns it, or returns
// io.EOF once the stream is exhausted (spec.md §4.1). Multiple goroutines
// may call Read concurrently; exactly one observes io.EOF first-hand, the
// rest observe it immediately thereafter without touching the pipeline.
// After io.EOF, callers should check Err to distinguish a clean end of
// database from a corruption/IO failure that truncated it early.
func (r *Reader) Read() (*Chunk, error) {
	o := r.consumerBox
	o.mu.Lock()
	for o.chunk == nil && !o.eof {
		o.full.Wait()
	}
	if o.eof {
		o.mu.Unlock()
		return nil, io.EOF
	}
	c := o.chunk
	o.chunk = nil
	isEnd := c.N == 0
	if isEnd {
		o.eof = true
	}
	o.mu.Unlock()
	o.empty.Signal()

	if isEnd {
		// Wake every consumer still waiting so it sees eof.
		o.full.Broadcast()
		r.Recycle(c)
		return nil, io.EOF
	}

	r.mu.Lock()
	r.stats.Chunks++
	r.stats.Sequences += int64(c.N)
	r.mu.Unlock()
	return c, nil
}

// Recycle returns a chunk the caller obtained from Read back to the pool so
// the loader can reuse it. The caller must not touch c again afterward.
func (r *Reader) Recycle(c *Chunk) {
	r.recycling.push(c)
}

// Err returns the first error recorded by the loader or unpacker threads,
// or nil if none occurred. It is meaningful to call after Read returns
// io.EOF (SPEC_FULL.md §7).
func (r *Reader) Err() error {
	return r.errOnce.Err()
}

// Stats returns a snapshot of this reader's lifetime counters. Safe to call
// at any time; most useful after Close.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.BytesRead = atomic.LoadInt64(&r.bytesRead)
	return s
}

// Alphabet returns the alphabet this database was opened with.
func (r *Reader) Alphabet() *alphabet.Alphabet { return r.alpha }

func (r *Reader) closeFiles(ctx context.Context) {
	if r.idxFile != nil {
		_ = r.idxFile.Close(ctx)
		r.idxFile = nil
	}
	if r.metaFile != nil {
		_ = r.metaFile.Close(ctx)
		r.metaFile = nil
	}
	if r.seqFile != nil {
		_ = r.seqFile.Close(ctx)
		r.seqFile = nil
	}
}

// Close joins the unpacker then the loader (in that order), closes the
// backing files, and frees the handle. It is safe to call on a reader that
// failed partway through Open, and safe to call whether or not Read ever
// observed io.EOF. There is no cancellation: if the pipeline has not been
// drained to end-of-stream, Close reads and recycles the remaining chunks
// itself (the loader only exits after producing the end-of-stream chunk and
// reclaiming every chunk it allocated). It returns the first error recorded
// by Open, the loader or the unpacker, if any.
func (r *Reader) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.consumerBox != nil {
		for {
			c, err := r.Read()
			if err != nil {
				break
			}
			r.Recycle(c)
		}
	}
	if r.unpackerDone != nil {
		<-r.unpackerDone
	}
	if r.loaderDone != nil {
		<-r.loaderDone
	}
	if r.ld != nil {
		// Safe without locking: closing loaderDone happens-after ld.run()
		// returns, and receiving from it above happens-before this read.
		r.mu.Lock()
		r.stats.ChunksAllocated = r.ld.allocated
		r.mu.Unlock()
	}
	r.closeFiles(ctx)
	return r.errOnce.Err()
}
