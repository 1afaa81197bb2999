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
package main

/*
dsqdata-scan streams a dsqdata database end to end and reports basic
throughput and content statistics. It exists as a thin, demonstrative
front end over encoding/dsqdata -- the real consumers of this reader are
search/scan kernels outside this module's scope (spec.md §1).
*/

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/pkg/errors"

	"github.com/biodsq/dsqdata/encoding/dsqdata"
)

var (
	nconsumers = flag.Int("nconsumers", 4, "Number of concurrent consumer goroutines")
	quiet      = flag.Bool("quiet", false, "Suppress per-second progress output")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] dsqdata-basename\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		if flag.NArg() < 1 {
			log.Fatalf("missing required dsqdata-basename argument")
		} else {
			log.Fatalf("too many positional arguments: %v", flag.Args())
		}
	}
	base := flag.Arg(0)
	ctx := vcontext.Background()

	r, alpha, err := dsqdata.Open(ctx, base, nil, *nconsumers)
	if err != nil {
		log.Fatalf("%v", errors.Wrap(err, "dsqdata-scan: open"))
	}
	log.Printf("opened %s: alphabet=%s, nconsumers=%d", base, alpha.Kind, *nconsumers)

	var nseqs, nresidues int64
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *nconsumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				c, err := r.Read()
				if err != nil {
					return
				}
				atomic.AddInt64(&nseqs, int64(c.Len()))
				for j := 0; j < c.Len(); j++ {
					atomic.AddInt64(&nresidues, int64(c.L(j)))
				}
				r.Recycle(c)
			}
		}()
	}

	if !*quiet {
		done := make(chan struct{})
		go func() {
			t := time.NewTicker(time.Second)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					log.Printf("...%d sequences, %d residues", atomic.LoadInt64(&nseqs), atomic.LoadInt64(&nresidues))
				case <-done:
					return
				}
			}
		}()
		defer close(done)
	}

	wg.Wait()
	elapsed := time.Since(start)

	if err := r.Close(ctx); err != nil {
		log.Fatalf("%v", errors.Wrap(err, "dsqdata-scan: reader reported an error"))
	}

	stats := r.Stats()
	fmt.Printf("sequences: %d\n", nseqs)
	fmt.Printf("residues:  %d\n", nresidues)
	fmt.Printf("chunks:    %d (allocated %d)\n", stats.Chunks, stats.ChunksAllocated)
	fmt.Printf("elapsed:   %s\n", elapsed)
}
