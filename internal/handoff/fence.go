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

package handoff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	fenceMagic   = "TSRFENCE"
	fenceVersion = uint32(1)

	// FenceFileSize is the size of a fence's backing file: one cache line
	// holding the header, the futex word and the counter.
	FenceFileSize = 64
)

// fenceHeader is the exact layout of the mapped fence file.
//
//	offset  size  field
//	0       8     magic
//	8       4     version
//	12      4     seq      (futex word, bumped on every signal)
//	16      8     value    (the fence counter; its value is the slot state)
//	24      40    reserved
type fenceHeader struct {
	magic    [8]byte
	version  uint32
	seq      uint32
	value    uint64
	reserved [40]byte
}

// Fence is a cross-process synchronization fence backed by a shared-memory
// file. Its 64-bit counter doubles as the paired slot's state; Signal flips
// the counter and wakes waiters in the other process via futex.
type Fence struct {
	file *os.File
	mem  []byte
	path string
}

func (f *Fence) header() *fenceHeader {
	return (*fenceHeader)(unsafe.Pointer(&f.mem[0]))
}

func (f *Fence) valuePtr() *uint64 { return &f.header().value }
func (f *Fence) seqPtr() *uint32   { return &f.header().seq }

// CreateFence creates a new shared fence with the given initial counter
// value. Fails if a fence of the same name already exists.
func CreateFence(name string, initial SlotState) (*Fence, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("create fence %q: %w", name, err)
	}
	if err := file.Truncate(FenceFileSize); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("truncate fence %q: %w", name, err)
	}

	mem, err := mapFile(file, FenceFileSize)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	f := &Fence{file: file, mem: mem, path: path}
	hdr := f.header()
	copy(hdr.magic[:], fenceMagic)
	hdr.version = fenceVersion
	atomic.StoreUint64(f.valuePtr(), uint64(initial))
	return f, nil
}

// OpenFence opens an existing shared fence created by another process.
func OpenFence(name string) (*Fence, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open fence %q: %w", name, err)
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat fence %q: %w", name, err)
	}
	if st.Size() != FenceFileSize {
		file.Close()
		return nil, fmt.Errorf("fence %q: size %d, want %d", name, st.Size(), FenceFileSize)
	}

	mem, err := mapFile(file, FenceFileSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	f := &Fence{file: file, mem: mem, path: path}
	hdr := f.header()
	if string(hdr.magic[:]) != fenceMagic {
		f.Close()
		return nil, fmt.Errorf("fence %q: bad magic", name)
	}
	if hdr.version != fenceVersion {
		f.Close()
		return nil, fmt.Errorf("fence %q: version %d, want %d", name, hdr.version, fenceVersion)
	}
	return f, nil
}

// Value returns the fence counter's current value.
func (f *Fence) Value() SlotState {
	return SlotState(atomic.LoadUint64(f.valuePtr()))
}

// StateMatches reports whether the fence counter currently equals s.
func (f *Fence) StateMatches(s SlotState) bool {
	return f.Value() == s
}

// Signal sets the fence counter to v and wakes all waiters in either
// process.
func (f *Fence) Signal(v SlotState) {
	atomic.StoreUint64(f.valuePtr(), uint64(v))
	atomic.AddUint32(f.seqPtr(), 1)
	// Wake everyone; at most one peer waits per fence in normal operation,
	// but shutdown paths may have stragglers.
	futexWake(f.seqPtr(), 1<<30)
}

// waitSlice bounds each futex wait so context cancellation is observed
// promptly even when the peer never signals.
const waitSlice = 10 * time.Millisecond

// Wait blocks until the fence counter equals expected. A timeout > 0 arms a
// watchdog: if the counter has not reached expected within that duration,
// Wait returns ErrFenceTimeout. timeout <= 0 waits indefinitely.
func (f *Fence) Wait(ctx context.Context, expected SlotState, timeout time.Duration) error {
	if f.mem == nil {
		return ErrClosed
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if f.StateMatches(expected) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w: waiting for %s on %s", ErrFenceTimeout, expected, f.path)
		}

		seq := atomic.LoadUint32(f.seqPtr())
		if f.StateMatches(expected) {
			return nil
		}
		err := futexWaitTimeout(f.seqPtr(), seq, int64(waitSlice))
		switch {
		case err == nil, errors.Is(err, ErrFutexTimeout):
			// Re-check and loop.
		case errors.Is(err, ErrFutexNotSupported):
			time.Sleep(time.Millisecond)
		default:
			return err
		}
	}
}

// Close unmaps and closes the fence. It does not remove the backing file;
// the creating side's ring does that on teardown. Safe to call more than
// once.
func (f *Fence) Close() error {
	var err error
	if f.mem != nil {
		err = unmapFile(f.mem)
		f.mem = nil
	}
	if f.file != nil {
		if cerr := f.file.Close(); err == nil {
			err = cerr
		}
		f.file = nil
	}
	return err
}
