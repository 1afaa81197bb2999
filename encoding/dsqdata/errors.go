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
	"fmt"

	"github.com/grailbio/base/errors"
)

// Error kind helpers matching the closed taxonomy of spec.md §7. end-of-stream
// is deliberately not represented here: it is a normal termination signal
// returned as io.EOF from Read, not an *errors.Error. alloc is likewise
// not wrapped: Go reports allocation failure as a runtime panic, which this
// package does not attempt to intercept (see DESIGN.md).

// errNotFound reports that one of the three backing files could not be
// opened.
func errNotFound(path string, cause error) error {
	return errors.E(errors.NotExist, cause, fmt.Sprintf("dsqdata: %s", path))
}

// errFormat reports a magic-word or record-geometry mismatch, including
// cross-endian databases.
func errFormat(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, "dsqdata: format: "+fmt.Sprintf(format, args...))
}

// errAlphabet reports that a caller-supplied alphabet does not match the
// one the database was packed with.
func errAlphabet(format string, args ...interface{}) error {
	return errors.E(errors.Precondition, "dsqdata: alphabet: "+fmt.Sprintf(format, args...))
}

// errCorrupt reports non-monotone offsets, metadata cursor overruns,
// residue-field invariant violations, or short reads where the index
// promised more bytes.
func errCorrupt(format string, args ...interface{}) error {
	return errors.E(errors.Integrity, "dsqdata: corruption: "+fmt.Sprintf(format, args...))
}

// errIO reports a read failure other than a short read (short reads, where
// the index promised more bytes, are reported by errCorrupt).
func errIO(path string, cause error) error {
	return errors.E(errors.IO, cause, fmt.Sprintf("dsqdata: %s", path))
}
