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

package relay

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestBufferRingFillDrainCycle(t *testing.T) {
	ring, err := NewBufferRing(2, 16)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}

	// Nothing to read yet.
	if b := ring.NextReadyBuffer(); b != nil {
		t.Fatal("NextReadyBuffer on fresh ring returned a buffer")
	}

	a := ring.NextEmptyBuffer(16)
	if a == nil {
		t.Fatal("NextEmptyBuffer returned nil on fresh ring")
	}
	b := ring.NextEmptyBuffer(16)
	if b == nil {
		t.Fatal("second NextEmptyBuffer returned nil")
	}
	if a == b {
		t.Fatal("two allocations returned the same buffer")
	}
	// Both buffers are in flight; the ring is exhausted.
	if c := ring.NextEmptyBuffer(16); c != nil {
		t.Fatal("NextEmptyBuffer succeeded on exhausted ring")
	}

	// Allocated but not ready: still nothing to read.
	if got := ring.NextReadyBuffer(); got != nil {
		t.Fatal("NextReadyBuffer returned an allocated buffer")
	}

	ring.MarkReady(a)
	ring.MarkReady(b)

	// The read cursor stays put until the buffer is released.
	first := ring.NextReadyBuffer()
	if first != a {
		t.Fatal("read cursor did not start at the first filled buffer")
	}
	if again := ring.NextReadyBuffer(); again != first {
		t.Fatal("NextReadyBuffer advanced without a release")
	}

	ring.Release(first)
	second := ring.NextReadyBuffer()
	if second != b {
		t.Fatal("read cursor did not advance to the second buffer after release")
	}
	ring.Release(second)

	if got := ring.NextReadyBuffer(); got != nil {
		t.Fatal("drained ring still offered a buffer")
	}
	// Released buffers are back in circulation.
	if got := ring.NextEmptyBuffer(16); got == nil {
		t.Fatal("NextEmptyBuffer failed after full drain")
	}
}

func TestBufferRingSizeMismatch(t *testing.T) {
	ring, err := NewBufferRing(2, 16)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}
	if b := ring.NextEmptyBuffer(32); b != nil {
		t.Fatal("NextEmptyBuffer accepted a mismatched size")
	}
	if b := ring.NextEmptyBuffer(16); b == nil {
		t.Fatal("NextEmptyBuffer rejected the matching size")
	}
}

func TestBufferRingReset(t *testing.T) {
	ring, err := NewBufferRing(2, 16)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}

	stale := ring.NextEmptyBuffer(16)
	ring.MarkReady(stale)

	if err := ring.Reset(64); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if got := ring.BufferSize(); got != 64 {
		t.Fatalf("BufferSize after Reset = %d, want 64", got)
	}
	// The pre-reset frame is gone and the old allocation size is refused.
	if b := ring.NextReadyBuffer(); b != nil {
		t.Fatal("frame survived Reset")
	}
	if b := ring.NextEmptyBuffer(16); b != nil {
		t.Fatal("old buffer size accepted after Reset")
	}
	fresh := ring.NextEmptyBuffer(64)
	if fresh == nil {
		t.Fatal("new buffer size rejected after Reset")
	}
	if fresh == stale {
		t.Fatal("Reset handed back a pre-reset buffer")
	}
	if len(fresh.Bytes()) != 64 {
		t.Fatalf("buffer length = %d, want 64", len(fresh.Bytes()))
	}
}

func TestNextEmptyBufferMutualExclusion(t *testing.T) {
	const capacity = 8

	ring, err := NewBufferRing(capacity, 16)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}

	// Two producers race for buffers without releasing any. No buffer
	// identity may be handed out twice.
	results := make(chan []*Buffer, 2)
	for p := 0; p < 2; p++ {
		go func() {
			var got []*Buffer
			for {
				b := ring.NextEmptyBuffer(16)
				if b == nil {
					break
				}
				got = append(got, b)
			}
			results <- got
		}()
	}

	seen := make(map[*Buffer]bool)
	total := 0
	for p := 0; p < 2; p++ {
		select {
		case got := <-results:
			for _, b := range got {
				if seen[b] {
					t.Fatal("same buffer handed to two producers")
				}
				seen[b] = true
				total++
			}
		case <-time.After(5 * time.Second):
			t.Fatal("producer never exhausted the ring")
		}
	}
	if total != capacity {
		t.Fatalf("producers claimed %d buffers, want %d", total, capacity)
	}
}

func TestBufferRingConcurrentFIFO(t *testing.T) {
	const frames = 500

	ring, err := NewBufferRing(3, 8)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}

	go func() {
		lock := ring.WriteLocker()
		for seq := uint64(0); seq < frames; {
			lock.Lock()
			b := ring.NextEmptyBuffer(8)
			if b == nil {
				lock.Unlock()
				time.Sleep(50 * time.Microsecond)
				continue
			}
			binary.LittleEndian.PutUint64(b.Bytes(), seq)
			ring.MarkReady(b)
			lock.Unlock()
			seq++
		}
	}()

	deadline := time.Now().Add(10 * time.Second)
	lock := ring.ReadLocker()
	for seq := uint64(0); seq < frames; {
		if time.Now().After(deadline) {
			t.Fatalf("stalled at frame %d", seq)
		}
		lock.Lock()
		b := ring.NextReadyBuffer()
		if b == nil {
			lock.Unlock()
			time.Sleep(50 * time.Microsecond)
			continue
		}
		if got := binary.LittleEndian.Uint64(b.Bytes()); got != seq {
			lock.Unlock()
			t.Fatalf("frame %d arrived out of order (got %d)", seq, got)
		}
		ring.Release(b)
		lock.Unlock()
		seq++
	}
}
