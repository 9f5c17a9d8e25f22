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
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

const (
	slotMagic   = "TSRSLOT\x00"
	slotVersion = uint32(1)

	// slotHeaderSize pads the header to a cache line; the packed surface
	// payload starts immediately after.
	slotHeaderSize = 64
)

// slotHeader is the exact layout of the start of a mapped slot file.
type slotHeader struct {
	magic       [8]byte
	version     uint32
	_           uint32
	payloadSize uint64
	reserved    [40]byte
}

// Slot is one shared-memory resource of the ring: a mapped file holding the
// packed payload of all surfaces for a single frame.
type Slot struct {
	file *os.File
	mem  []byte
	path string
}

func (s *Slot) header() *slotHeader {
	return (*slotHeader)(unsafe.Pointer(&s.mem[0]))
}

// CreateSlot creates a new shared slot sized for payloadSize bytes. Fails if
// a slot of the same name already exists.
func CreateSlot(name string, payloadSize uint64) (*Slot, error) {
	if payloadSize == 0 {
		return nil, fmt.Errorf("create slot %q: zero payload size", name)
	}
	path := segmentPath(name)
	total := int64(slotHeaderSize + payloadSize)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("create slot %q: %w", name, err)
	}
	if err := file.Truncate(total); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("truncate slot %q: %w", name, err)
	}

	mem, err := mapFile(file, int(total))
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	s := &Slot{file: file, mem: mem, path: path}
	hdr := s.header()
	copy(hdr.magic[:], slotMagic)
	hdr.version = slotVersion
	// Publish payloadSize last so an opener that sees it also sees the
	// magic and version.
	atomic.StoreUint64(&hdr.payloadSize, payloadSize)
	return s, nil
}

// OpenSlot opens an existing shared slot and validates that its payload size
// matches what the opener's surface layout requires.
func OpenSlot(name string, wantPayload uint64) (*Slot, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open slot %q: %w", name, err)
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat slot %q: %w", name, err)
	}
	total := int64(slotHeaderSize + wantPayload)
	if st.Size() != total {
		file.Close()
		return nil, fmt.Errorf("slot %q: size %d, want %d", name, st.Size(), total)
	}

	mem, err := mapFile(file, int(total))
	if err != nil {
		file.Close()
		return nil, err
	}

	s := &Slot{file: file, mem: mem, path: path}
	hdr := s.header()
	if string(hdr.magic[:]) != slotMagic {
		s.Close()
		return nil, fmt.Errorf("slot %q: bad magic", name)
	}
	if hdr.version != slotVersion {
		s.Close()
		return nil, fmt.Errorf("slot %q: version %d, want %d", name, hdr.version, slotVersion)
	}
	if got := atomic.LoadUint64(&hdr.payloadSize); got != wantPayload {
		s.Close()
		return nil, fmt.Errorf("slot %q: payload size %d, want %d", name, got, wantPayload)
	}
	return s, nil
}

// PayloadSize returns the slot's payload capacity in bytes.
func (s *Slot) PayloadSize() uint64 {
	return atomic.LoadUint64(&s.header().payloadSize)
}

// Payload returns the shared payload region. Writes here are visible to the
// peer process; the paired fence governs who may touch it.
func (s *Slot) Payload() []byte {
	return s.mem[slotHeaderSize : slotHeaderSize+s.PayloadSize()]
}

// Close unmaps and closes the slot without removing the backing file. Safe
// to call more than once.
func (s *Slot) Close() error {
	var err error
	if s.mem != nil {
		err = unmapFile(s.mem)
		s.mem = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	return err
}
