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

// Package alphabet is the minimal biological-alphabet contract that
// encoding/dsqdata depends on: a symbol count, a sentinel byte and a
// degeneracy map. The rest of a full alphabet abstraction (parsing text
// sequences, scoring matrices, ambiguity resolution) lives outside this
// module's scope; Open only needs enough of an alphabet to validate a
// database and to let callers map digital residues back to letters.
package alphabet

import "fmt"

// Type identifies which biological alphabet a database was packed with. Only
// Amino is packed with the 5-bit scheme encoding/dsqdata decodes; the other
// values are recognized so Open can report a precise error rather than
// silently misinterpreting 2-bit-packed nucleotide data as protein.
type Type byte

const (
	DNA Type = iota
	RNA
	Amino
)

func (t Type) String() string {
	switch t {
	case DNA:
		return "DNA"
	case RNA:
		return "RNA"
	case Amino:
		return "amino"
	default:
		return fmt.Sprintf("alphabet.Type(%d)", byte(t))
	}
}

// Sentinel is the byte value used to delimit every sequence in a decoded
// chunk. It must not collide with any valid digital residue of any
// supported alphabet, so it sits well above the widest K in use (20).
const Sentinel = 127

// PackedSentinel is the reserved 5-bit field value (all-ones) that marks
// unused residue slots in the final packed word of a sequence. It is never
// a valid digital residue.
const PackedSentinel = 31

// Alphabet is the symbol table a dsqdata database was packed against.
type Alphabet struct {
	Kind Type
	// Sym holds the one-letter code for each digital residue 0..K-1, in
	// the same order the writer assigned digital codes.
	Sym []byte
	// Degen maps an upper-case ambiguity code (e.g. 'X', 'B', 'Z' for
	// amino acids) to the set of digital residues it may stand for. It is
	// carried for completeness with spec.md's "alphabet... provides a
	// degeneracy map" but is not consulted by the reader itself, which
	// only ever sees already-resolved digital residues.
	Degen map[byte][]byte
}

// K returns the number of plain (non-degenerate) digital residues.
func (a *Alphabet) K() int { return len(a.Sym) }

// Equal reports whether two alphabets describe the same symbol set in the
// same digital-code order. Open uses this to validate a caller-supplied
// alphabet against the one a database was packed with.
func (a *Alphabet) Equal(b *Alphabet) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || len(a.Sym) != len(b.Sym) {
		return false
	}
	for i := range a.Sym {
		if a.Sym[i] != b.Sym[i] {
			return false
		}
	}
	return true
}

// aminoSym is the canonical 20-symbol amino-acid digital-code order used by
// the reference packer. Equal, which Open uses to validate a caller-supplied
// alphabet, compares this ordering symbol by symbol; Amino is provided as
// the common default so callers need not hand-roll it.
var aminoSym = []byte("ACDEFGHIKLMNPQRSTVWY")

// NewAmino returns the standard 20-symbol protein alphabet.
func NewAmino() *Alphabet {
	return &Alphabet{
		Kind: Amino,
		Sym:  append([]byte(nil), aminoSym...),
		Degen: map[byte][]byte{
			'B': {2, 11},  // D or N
			'Z': {3, 13},  // E or Q
			'J': {7, 9},   // I or L
			'X': aminoSym, // any
		},
	}
}

// ForType returns the built-in alphabet for a given Type, or nil if this
// reader has no default for it (DNA/RNA databases use 2-bit packing, which
// is out of scope; see spec.md §6).
func ForType(t Type) *Alphabet {
	switch t {
	case Amino:
		return NewAmino()
	default:
		return nil
	}
}
