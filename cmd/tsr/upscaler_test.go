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

package main

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/Joint-Rendering-Encoding/tsr/internal/config"
	"github.com/Joint-Rendering-Encoding/tsr/internal/handoff"
)

func TestDrainReadyStartsAtReadPosition(t *testing.T) {
	descs := ringLayout(config.Resolution{Width: 8, Height: 4})
	name := fmt.Sprintf("drain_%d", time.Now().UnixNano())

	ring, err := handoff.CreateRing(name, descs, 3)
	if err != nil {
		t.Fatalf("CreateRing failed: %v", err)
	}
	defer ring.Close()

	engine := handoff.NewEngine(ring)
	surfs, err := newSurfaces(descs)
	if err != nil {
		t.Fatalf("newSurfaces failed: %v", err)
	}

	// Frames 7 and 8 are still in flight: slot 2 holds the older one, the
	// ring wrapped and slot 0 holds the newer. Slot 1 stays IDLE.
	paintFrame(surfs, 7)
	if err := engine.TransferOut(surfs, 2); err != nil {
		t.Fatalf("TransferOut slot 2 failed: %v", err)
	}
	paintFrame(surfs, 8)
	if err := engine.TransferOut(surfs, 0); err != nil {
		t.Fatalf("TransferOut slot 0 failed: %v", err)
	}

	drained, err := drainReady(engine, ring, surfs, 3, 2)
	if err != nil {
		t.Fatalf("drainReady failed: %v", err)
	}
	if drained != 2 {
		t.Fatalf("drained %d frames, want 2", drained)
	}
	if !ring.AllSlotsMatch(handoff.StateIdle) {
		t.Fatal("drain left non-IDLE slots")
	}
	// Ring order from the read position means slot 2 drains before slot 0,
	// so the surfaces end up holding the newer frame.
	if got := binary.LittleEndian.Uint64(surfs[0].Bytes()); got != 8 {
		t.Fatalf("last drained frame = %d, want 8", got)
	}
}
