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

package surface

// The packed slot layout is a pure function of the descriptor list so that
// the producing and consuming processes derive identical offset tables
// independently, without ever serializing the table itself.

// TotalSize returns the byte size of one slot holding all surfaces in descs
// packed contiguously.
func TotalSize(descs []Descriptor) uint64 {
	var total uint64
	for _, d := range descs {
		total += d.ByteSize()
	}
	return total
}

// Offsets returns the byte offset of each surface within a packed slot.
// Offsets are assigned by iterating descs in declaration order and
// accumulating each surface's byte size.
func Offsets(descs []Descriptor) []uint64 {
	offsets := make([]uint64, len(descs))
	var off uint64
	for i, d := range descs {
		offsets[i] = off
		off += d.ByteSize()
	}
	return offsets
}

// ValidateAll validates every descriptor in the list.
func ValidateAll(descs []Descriptor) error {
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}
