/*
 *
 * Copyright 2025 The TSR Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Command slotprobe inspects a live shared ring from the outside: it
// attaches read-only to the fences of a running renderer/upscaler pair and
// prints each slot's state. Useful when the two processes disagree and you
// need to see who is stuck on what.
//
//	slotprobe -name TSR_SHARED -slots 2
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/Joint-Rendering-Encoding/tsr/internal/handoff"
)

func main() {
	name := flag.String("name", "TSR_SHARED", "shared ring name")
	slots := flag.Int("slots", 2, "slot count the ring was created with")
	flag.Parse()

	if *slots < 1 {
		log.Fatalf("slot count %d, want >= 1", *slots)
	}

	fmt.Printf("ring %q (%d slots)\n", *name, *slots)
	for i := 0; i < *slots; i++ {
		fence, err := handoff.OpenFence(fmt.Sprintf("%s_%d_FENCE", *name, i))
		if err != nil {
			fmt.Printf("  slot %d: fence unavailable (%v)\n", i, err)
			continue
		}
		fmt.Printf("  slot %d: %s\n", i, fence.Value())
		fence.Close()
	}
}
