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

// Package fadvise issues a best-effort sequential-readahead hint to the OS
// page cache for a local file. It exists because the loader reads the
// packed sequence file strictly forward, once, start to finish: telling the
// kernel that up front lets it read ahead more aggressively than its
// default heuristic would (spec.md §1's "sustain streaming throughput on
// disks faster than a single CPU core"). Split into a linux/generic pair
// the way biosimd_amd64.go/biosimd_generic.go split SIMD and portable code
// in the teacher repo.
package fadvise

import (
	"os"

	"golang.org/x/sys/unix"
)

// Hint opens path and advises the kernel that it will be read sequentially,
// then closes its private handle. It never returns an error: a failed hint
// changes performance, not correctness, so callers are expected to ignore
// its outcome entirely (there is nothing actionable to do with it).
func Hint(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
