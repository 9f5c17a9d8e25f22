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
	"fmt"
	"os"
	"time"

	"github.com/Joint-Rendering-Encoding/tsr/internal/surface"
)

// resourceName and fenceName define the naming contract both processes
// derive segment names from. Changing either breaks interop with existing
// peers.
func resourceName(name string, i int) string {
	return fmt.Sprintf("%s_%d_RESOURCE", name, i)
}

func fenceName(name string, i int) string {
	return fmt.Sprintf("%s_%d_FENCE", name, i)
}

// Ring is a fixed-size ring of shared slots, each guarded by a shared
// fence. The creating side owns the backing files and removes them on
// Close; the opening side just detaches.
type Ring struct {
	name   string
	descs  []surface.Descriptor
	slots  []*Slot
	fences []*Fence
	owner  bool
	closed bool
}

// CreateRing creates slotCount shared slots sized for the packed surface
// layout, with every fence initialized to IDLE. The caller becomes the
// ring's owner.
func CreateRing(name string, descs []surface.Descriptor, slotCount int) (*Ring, error) {
	if err := validateRingArgs(name, descs, slotCount); err != nil {
		return nil, err
	}
	payload := surface.TotalSize(descs)

	r := &Ring{
		name:  name,
		descs: append([]surface.Descriptor(nil), descs...),
		owner: true,
	}
	for i := 0; i < slotCount; i++ {
		slot, err := CreateSlot(resourceName(name, i), payload)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("create ring %q: %w", name, err)
		}
		r.slots = append(r.slots, slot)

		fence, err := CreateFence(fenceName(name, i), StateIdle)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("create ring %q: %w", name, err)
		}
		r.fences = append(r.fences, fence)
	}
	return r, nil
}

// OpenRing attaches to a ring created by another process. The descriptor
// list and slot count must match the creator's exactly; a payload size
// mismatch is rejected per slot.
func OpenRing(name string, descs []surface.Descriptor, slotCount int) (*Ring, error) {
	if err := validateRingArgs(name, descs, slotCount); err != nil {
		return nil, err
	}
	payload := surface.TotalSize(descs)

	r := &Ring{
		name:  name,
		descs: append([]surface.Descriptor(nil), descs...),
	}
	for i := 0; i < slotCount; i++ {
		slot, err := OpenSlot(resourceName(name, i), payload)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("open ring %q: %w", name, err)
		}
		r.slots = append(r.slots, slot)

		fence, err := OpenFence(fenceName(name, i))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("open ring %q: %w", name, err)
		}
		r.fences = append(r.fences, fence)
	}
	return r, nil
}

func validateRingArgs(name string, descs []surface.Descriptor, slotCount int) error {
	if name == "" {
		return fmt.Errorf("ring: empty name")
	}
	if slotCount < 1 {
		return fmt.Errorf("ring %q: slot count %d, want >= 1", name, slotCount)
	}
	if len(descs) == 0 {
		return fmt.Errorf("ring %q: no surface descriptors", name)
	}
	if err := surface.ValidateAll(descs); err != nil {
		return fmt.Errorf("ring %q: %w", name, err)
	}
	return nil
}

// Name returns the shared name the ring's segments derive from.
func (r *Ring) Name() string { return r.name }

// SlotCount returns the number of slots in the ring.
func (r *Ring) SlotCount() int { return len(r.slots) }

// Layout returns the surface descriptors the ring was sized for.
func (r *Ring) Layout() []surface.Descriptor {
	return append([]surface.Descriptor(nil), r.descs...)
}

// Slot returns slot i. Panics on an out-of-range index.
func (r *Ring) Slot(i int) *Slot { return r.slots[i] }

// Fence returns the fence guarding slot i. Panics on an out-of-range index.
func (r *Ring) Fence(i int) *Fence { return r.fences[i] }

// StateMatches reports whether slot i's fence currently equals s.
func (r *Ring) StateMatches(i int, s SlotState) bool {
	return r.fences[i].StateMatches(s)
}

// AllSlotsMatch reports whether every fence in the ring currently equals s.
// The producer's exit gate uses this to confirm the consumer has drained
// every in-flight frame.
func (r *Ring) AllSlotsMatch(s SlotState) bool {
	for _, f := range r.fences {
		if !f.StateMatches(s) {
			return false
		}
	}
	return true
}

// WaitSlot blocks until slot i's fence equals expected, honoring ctx and an
// optional watchdog timeout.
func (r *Ring) WaitSlot(ctx context.Context, i int, expected SlotState, timeout time.Duration) error {
	if r.closed {
		return ErrClosed
	}
	return r.fences[i].Wait(ctx, expected, timeout)
}

// Close detaches from all slots and fences. The owning side also removes
// the backing files, so segments do not outlive the process that created
// them. Safe to call more than once.
func (r *Ring) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	for _, f := range r.fences {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	for _, s := range r.slots {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}
	if r.owner {
		for i := range r.slots {
			os.Remove(segmentPath(resourceName(r.name, i)))
		}
		for i := range r.fences {
			os.Remove(segmentPath(fenceName(r.name, i)))
		}
	}
	return err
}
