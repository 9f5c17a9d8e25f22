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

	"github.com/Joint-Rendering-Encoding/tsr/internal/surface"
)

// Engine moves whole frames between process-local surfaces and ring slots.
// TransferOut is the producer direction (surfaces -> slot, fence to READY),
// TransferIn the consumer direction (slot -> surfaces, fence to IDLE).
//
// Each direction asserts the fence precondition before touching the slot.
// A precondition failure means the peers disagree about who owns the slot
// and is returned as ErrSlotState; continuing past it would corrupt frames,
// so callers must shut down instead.
type Engine struct {
	ring    *Ring
	offsets []uint64
	total   uint64
}

// NewEngine builds a transfer engine over ring, precomputing the packed
// offset of every surface in a slot.
func NewEngine(ring *Ring) *Engine {
	descs := ring.Layout()
	return &Engine{
		ring:    ring,
		offsets: surface.Offsets(descs),
		total:   surface.TotalSize(descs),
	}
}

// checkLayout verifies surfs matches the ring's layout surface by surface,
// in declaration order.
func (e *Engine) checkLayout(surfs []*surface.Surface) error {
	if len(surfs) != len(e.ring.descs) {
		return fmt.Errorf("%w: %d surfaces, ring has %d", ErrLayoutMismatch, len(surfs), len(e.ring.descs))
	}
	for i, s := range surfs {
		if s.Desc() != e.ring.descs[i] {
			return fmt.Errorf("%w: surface %d is %+v, ring wants %+v", ErrLayoutMismatch, i, s.Desc(), e.ring.descs[i])
		}
	}
	return nil
}

// TransferOut copies every surface into slot i and signals the fence READY.
// The slot fence must be IDLE on entry.
func (e *Engine) TransferOut(surfs []*surface.Surface, i int) error {
	if err := e.checkLayout(surfs); err != nil {
		return err
	}

	fence := e.ring.Fence(i)
	if got := fence.Value(); got != StateIdle {
		return fmt.Errorf("%w: slot %d fence is %s, want %s", ErrSlotState, i, got, StateIdle)
	}

	payload := e.ring.Slot(i).Payload()
	if uint64(len(payload)) != e.total {
		return fmt.Errorf("handoff: slot %d payload is %d bytes, layout needs %d", i, len(payload), e.total)
	}

	for j, s := range surfs {
		if err := s.Transition(surface.StateShaderResource, surface.StateCopySource); err != nil {
			return fmt.Errorf("transfer out slot %d surface %d: %w", i, j, err)
		}
		off := e.offsets[j]
		copy(payload[off:off+s.Desc().ByteSize()], s.Bytes())
		if err := s.Transition(surface.StateCopySource, surface.StateShaderResource); err != nil {
			return fmt.Errorf("transfer out slot %d surface %d: %w", i, j, err)
		}
	}

	fence.Signal(StateReady)
	return nil
}

// TransferIn copies slot i into every surface and signals the fence IDLE.
// The slot fence must be READY on entry.
func (e *Engine) TransferIn(surfs []*surface.Surface, i int) error {
	if err := e.checkLayout(surfs); err != nil {
		return err
	}

	fence := e.ring.Fence(i)
	if got := fence.Value(); got != StateReady {
		return fmt.Errorf("%w: slot %d fence is %s, want %s", ErrSlotState, i, got, StateReady)
	}

	payload := e.ring.Slot(i).Payload()
	if uint64(len(payload)) != e.total {
		return fmt.Errorf("handoff: slot %d payload is %d bytes, layout needs %d", i, len(payload), e.total)
	}

	for j, s := range surfs {
		if err := s.Transition(surface.StateShaderResource, surface.StateCopyDest); err != nil {
			return fmt.Errorf("transfer in slot %d surface %d: %w", i, j, err)
		}
		off := e.offsets[j]
		copy(s.Bytes(), payload[off:off+s.Desc().ByteSize()])
		if err := s.Transition(surface.StateCopyDest, surface.StateShaderResource); err != nil {
			return fmt.Errorf("transfer in slot %d surface %d: %w", i, j, err)
		}
	}

	fence.Signal(StateIdle)
	return nil
}
