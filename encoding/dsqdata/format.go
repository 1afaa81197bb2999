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

// On-disk layout. See spec.md §3 and §6. A database named B occupies the
// stub file B (unparsed by this reader), B.dsqi (index), B.dsqm (metadata)
// and B.dsqs (packed sequence).
const (
	indexSuffix = ".dsqi"
	metaSuffix  = ".dsqm"
	seqSuffix   = ".dsqs"
)

// indexMagic identifies an index file written in this reader's native byte
// order. indexMagicSwapped is what a cross-endian writer's magic looks like
// once read with the wrong byte order, so Open can tell "wrong format"
// apart from "right format, wrong endianness".
const (
	indexMagic        uint32 = 0x45534451 // "ESQD" on a little-endian machine
	indexMagicSwapped uint32 = 0x51445345
	indexVersion      uint16 = 1
)

// indexHeaderSize is the size in bytes of the fixed header that precedes
// the index records in a .dsqi file (see SPEC_FULL.md §4).
const indexHeaderSize = 8

// indexHeader is the 8-byte prologue of a .dsqi file.
type indexHeader struct {
	Magic   uint32
	Alpha   byte // alphabet.Type
	_       byte // reserved
	Version uint16
}

// indexRecordSize is the size in bytes of one fixed-size index record.
const indexRecordSize = 16

// indexRecord is one entry of the .dsqi file; record i implicitly describes
// sequence i (0-based). See spec.md §3.
type indexRecord struct {
	MetadataEnd int64
	PsqEnd      int64
}

// Tunable compile-time limits. maxSeqsPerChunk bounds how many sequences a
// chunk may hold; maxWordsPerChunk bounds how many packed words worth of sequence a single
// chunk may carry, so that a chunk's packed payload (and therefore its
// unpacked payload) stays within a predictable memory footprint regardless
// of how long individual sequences are.
const (
	maxSeqsPerChunk   = 4096
	maxWordsPerChunk  = 1 << 20 // 4 MiB of packed data per chunk
	residuesPerWord   = 6
	bitsPerResidue    = 5
	residueFieldMask  = 0x1f
	eosBit            = uint32(1) << 31
	packingModeBit    = uint32(1) << 30
	wordResidueBits   = 0x3fffffff // bits 29..0
	packedSentinel    = 0x1f       // all-ones 5-bit field
	initialMetaAlloc  = 4096
	defaultNConsumers = 1
)
