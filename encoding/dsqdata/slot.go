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

import "sync"

// outbox is a one-chunk rendezvous slot: a hand-off point between two
// pipeline stages where the producer blocks while the slot is occupied and
// the consumer blocks while it is empty. It implements the loader_outbox
// and the non-EOF half of the unpacker_outbox behavior from spec.md §5.
//
// Every mutation happens under mu; the full/empty condition variables are
// always signalled after mu is released, so a waiter woken by Signal does
// not immediately block again trying to reacquire a lock the signaller
// still holds (spec.md §5 "Shared resource policy").
type outbox struct {
	mu    sync.Mutex
	full  sync.Cond // waited on by the taker; signalled after a put
	empty sync.Cond // waited on by the putter; signalled after a take
	chunk *Chunk

	// eof is only meaningful on the unpacker-outbox instance handed to
	// consumers: it latches true the first time some consumer's Read
	// observes the N=0 end-of-stream chunk (spec.md §5 "The at_eof flag
	// is written exactly once, under the unpacker-outbox mutex... read
	// under the same mutex"), so every later Read returns immediately
	// without touching the pipeline.
	eof bool
}

func newOutbox() *outbox {
	o := &outbox{}
	o.full.L = &o.mu
	o.empty.L = &o.mu
	return o
}

// put installs c, blocking while the slot is already occupied.
func (o *outbox) put(c *Chunk) {
	o.mu.Lock()
	for o.chunk != nil {
		o.empty.Wait()
	}
	o.chunk = c
	o.mu.Unlock()
	o.full.Signal()
}

// take removes and returns the installed chunk, blocking until one exists.
func (o *outbox) take() *Chunk {
	o.mu.Lock()
	for o.chunk == nil {
		o.full.Wait()
	}
	c := o.chunk
	o.chunk = nil
	o.mu.Unlock()
	o.empty.Signal()
	return c
}

// recyclingStack is the LIFO pool of chunks consumers have returned via
// Recycle, awaiting the loader's exclusive reuse (spec.md §4.2 step 1, §9
// "Cyclic back-references"). A stack, not a queue, because Recycle must
// never block: the loader is the only reader of this structure and is
// always willing to accept more.
type recyclingStack struct {
	mu   sync.Mutex
	cond sync.Cond
	top  *Chunk
}

func newRecyclingStack() *recyclingStack {
	s := &recyclingStack{}
	s.cond.L = &s.mu
	return s
}

// push returns a chunk to the pool. Never blocks.
func (s *recyclingStack) push(c *Chunk) {
	s.mu.Lock()
	c.next = s.top
	s.top = c
	s.mu.Unlock()
	s.cond.Signal()
}

// popWait removes and returns the most recently pushed chunk, blocking
// until the stack is non-empty. The loader uses this both to acquire an
// empty chunk for reuse and, at shutdown, to drain every chunk it must
// destroy.
func (s *recyclingStack) popWait() *Chunk {
	s.mu.Lock()
	for s.top == nil {
		s.cond.Wait()
	}
	c := s.top
	s.top = c.next
	c.next = nil
	s.mu.Unlock()
	return c
}
