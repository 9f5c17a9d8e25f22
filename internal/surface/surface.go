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

// Package surface describes the GPU surfaces exchanged between the renderer
// and the upscaler: immutable descriptors (width, height, stride, format),
// the packed slot layout derived from an ordered descriptor list, and the
// resource-state tracking the transfer engine relies on.
package surface

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// ErrUnknownFormat indicates a texture format the transfer path has no
// byte-stride for.
var ErrUnknownFormat = errors.New("surface: unknown texture format")

// Descriptor is an immutable reference to a GPU surface taking part in a
// transfer. A fixed ordered list of descriptors defines the packed layout of
// every shared slot; the ordering is part of the wire contract and must match
// between the producing and consuming builds.
type Descriptor struct {
	Name   string
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
}

// FormatStride returns the per-pixel byte stride for the formats the
// transfer path understands. Unknown formats return 0.
func FormatStride(f gputypes.TextureFormat) uint64 {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4
	case gputypes.TextureFormatDepth24PlusStencil8:
		return 4
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		return 0
	}
}

// Stride returns the descriptor's per-pixel byte stride.
func (d Descriptor) Stride() uint64 {
	return FormatStride(d.Format)
}

// ByteSize returns the packed byte size of the surface
// (width * height * stride).
func (d Descriptor) ByteSize() uint64 {
	return uint64(d.Width) * uint64(d.Height) * d.Stride()
}

// Validate checks that the descriptor can take part in a transfer.
func (d Descriptor) Validate() error {
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("surface %q: zero dimension %dx%d", d.Name, d.Width, d.Height)
	}
	if d.Stride() == 0 {
		return fmt.Errorf("surface %q: %w (%d)", d.Name, ErrUnknownFormat, d.Format)
	}
	return nil
}

// ResourceState models the view state a surface is in. The transfer engine
// transitions a surface to a copy state for the duration of a copy and back
// to shader-readable afterwards; callers driving surface state outside the
// engine must restore their own expected state.
type ResourceState uint32

const (
	// StateShaderResource is the steady state: readable by shaders.
	StateShaderResource ResourceState = iota
	// StateCopySource marks the surface as the source of a copy.
	StateCopySource
	// StateCopyDest marks the surface as the destination of a copy.
	StateCopyDest
)

func (s ResourceState) String() string {
	switch s {
	case StateShaderResource:
		return "SHADER_RESOURCE"
	case StateCopySource:
		return "COPY_SOURCE"
	case StateCopyDest:
		return "COPY_DEST"
	default:
		return fmt.Sprintf("STATE(%d)", uint32(s))
	}
}

// Surface is a GPU-resident 2D image buffer taking part in transfers. The
// backing store stands in for the device allocation; its layout is the
// packed row-major layout described by the descriptor.
type Surface struct {
	desc  Descriptor
	state ResourceState
	data  []byte
}

// New allocates a surface for the given descriptor. The surface starts in
// the shader-readable state.
func New(desc Descriptor) (*Surface, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &Surface{
		desc:  desc,
		state: StateShaderResource,
		data:  make([]byte, desc.ByteSize()),
	}, nil
}

// Desc returns the surface's descriptor.
func (s *Surface) Desc() Descriptor {
	return s.desc
}

// State returns the surface's current resource state.
func (s *Surface) State() ResourceState {
	return s.state
}

// Transition moves the surface from one resource state to another. It fails
// if the surface is not in the expected prior state, which indicates two
// parties are driving the same surface's state concurrently.
func (s *Surface) Transition(from, to ResourceState) error {
	if s.state != from {
		return fmt.Errorf("surface %q: transition from %s requested but state is %s", s.desc.Name, from, s.state)
	}
	s.state = to
	return nil
}

// Bytes exposes the surface's backing store. The slice aliases the surface;
// it is only valid to touch while the surface is in a copy state.
func (s *Surface) Bytes() []byte {
	return s.data
}
