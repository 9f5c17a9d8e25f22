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
	"fmt"
	"sync"
)

// BufferState tracks where a network buffer is in its fill/drain cycle.
type BufferState int

const (
	// BufferEmpty means the buffer may be handed to a writer.
	BufferEmpty BufferState = iota
	// BufferAllocated means a writer is filling the buffer.
	BufferAllocated
	// BufferReady means the buffer holds a complete frame for a reader.
	BufferReady
)

func (s BufferState) String() string {
	switch s {
	case BufferEmpty:
		return "EMPTY"
	case BufferAllocated:
		return "ALLOCATED"
	case BufferReady:
		return "READY"
	default:
		return fmt.Sprintf("BUFFER_STATE(%d)", int(s))
	}
}

// Buffer is one fixed-capacity frame buffer owned by a BufferRing. The ring
// hands out *Buffer values and identifies them by pointer on the way back.
type Buffer struct {
	data  []byte
	state BufferState
}

// Bytes returns the buffer's full payload region.
func (b *Buffer) Bytes() []byte { return b.data }

// BufferRing is a fixed ring of equally sized frame buffers connecting a
// network-facing writer to a consumer (or vice versa). Buffers advance
// Empty -> Allocated -> Ready -> Empty; the write cursor chases empties, the
// read cursor chases readies, and neither cursor overtakes the other because
// a slot only re-enters circulation on Release.
//
// State transitions take the state lock. The read and write locks serialize
// whole fill/drain cycles, so one producer and one consumer can run
// concurrently but two producers (or consumers) cannot interleave.
type BufferRing struct {
	stateMu sync.Mutex
	readMu  sync.Mutex
	writeMu sync.Mutex

	bufs     []*Buffer
	readIdx  int
	writeIdx int
	bufSize  uint64
}

// NewBufferRing creates a ring of count buffers of size bytes each.
func NewBufferRing(count int, size uint64) (*BufferRing, error) {
	if count < 1 {
		return nil, fmt.Errorf("relay: buffer ring count %d, want >= 1", count)
	}
	if size == 0 {
		return nil, fmt.Errorf("relay: zero buffer size")
	}
	r := &BufferRing{bufSize: size}
	r.bufs = make([]*Buffer, count)
	for i := range r.bufs {
		r.bufs[i] = &Buffer{data: make([]byte, size)}
	}
	return r, nil
}

// Capacity returns the number of buffers in the ring.
func (r *BufferRing) Capacity() int { return len(r.bufs) }

// BufferSize returns the byte size of each buffer.
func (r *BufferRing) BufferSize() uint64 {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.bufSize
}

// ReadLocker returns the lock a consumer holds across one whole
// NextReadyBuffer..Release cycle.
func (r *BufferRing) ReadLocker() sync.Locker { return &r.readMu }

// WriteLocker returns the lock a producer holds across one whole
// NextEmptyBuffer..MarkReady cycle.
func (r *BufferRing) WriteLocker() sync.Locker { return &r.writeMu }

// NextEmptyBuffer claims the buffer at the write cursor for filling and
// advances the cursor. It returns nil when the buffer there is not empty
// (the ring is full) or when size does not match the ring's buffer size.
func (r *BufferRing) NextEmptyBuffer(size uint64) *Buffer {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if size != r.bufSize {
		return nil
	}
	b := r.bufs[r.writeIdx]
	if b.state != BufferEmpty {
		return nil
	}
	b.state = BufferAllocated
	r.writeIdx = (r.writeIdx + 1) % len(r.bufs)
	return b
}

// MarkReady publishes a filled buffer to the reader side.
func (r *BufferRing) MarkReady(b *Buffer) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	b.state = BufferReady
}

// NextReadyBuffer returns the buffer at the read cursor if it holds a
// complete frame, or nil. The cursor does not advance; it only moves when
// the caller releases the buffer, so an aborted consume leaves the frame in
// place to be offered again.
func (r *BufferRing) NextReadyBuffer() *Buffer {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	b := r.bufs[r.readIdx]
	if b.state != BufferReady {
		return nil
	}
	return b
}

// Release returns a buffer to the empty pool. If the buffer sits at the
// read cursor the cursor advances past it.
func (r *BufferRing) Release(b *Buffer) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	b.state = BufferEmpty
	if r.bufs[r.readIdx] == b {
		r.readIdx = (r.readIdx + 1) % len(r.bufs)
	}
}

// Reset discards all frames and resizes every buffer. It takes all three
// locks, so it cannot run while a fill or drain cycle is mid-flight;
// buffers handed out before Reset must not be touched after it.
func (r *BufferRing) Reset(size uint64) error {
	if size == 0 {
		return fmt.Errorf("relay: zero buffer size")
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.readMu.Lock()
	defer r.readMu.Unlock()
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	r.bufSize = size
	r.readIdx = 0
	r.writeIdx = 0
	for i := range r.bufs {
		r.bufs[i] = &Buffer{data: make([]byte, size)}
	}
	return nil
}
