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

// Package relay streams finished frames from the renderer to a remote relay
// process over TCP. The protocol is stop-and-wait: the relay asks for one
// frame (CONTINUE), the renderer offers one (DATA + size) or declines
// (NOT_READY), the relay commits to receiving it (PROCEED), and only then do
// the frame bytes flow. At most one frame is ever in flight per connection.
package relay

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// MessageType identifies a relay protocol message. The numeric values are
// the wire format; do not reorder.
type MessageType uint32

const (
	// MsgReconfigure announces the frame dimensions. The renderer sends it
	// once immediately after accepting a connection, and again whenever the
	// presentation resolution changes.
	MsgReconfigure MessageType = iota
	// MsgContinue is the relay asking for the next frame.
	MsgContinue
	// MsgProceed is the relay committing to receive the offered frame.
	MsgProceed
	// MsgAck acknowledges a reconfigure.
	MsgAck
	// MsgNotReady declines a frame request; the relay should ask again.
	MsgNotReady
	// MsgData offers a frame; a size field and, after PROCEED, the payload
	// follow.
	MsgData
	// MsgError reports a fatal condition; the connection tears down.
	MsgError
	// MsgInvalid is returned for malformed reads.
	MsgInvalid
)

func (m MessageType) String() string {
	switch m {
	case MsgReconfigure:
		return "RECONFIGURE"
	case MsgContinue:
		return "CONTINUE"
	case MsgProceed:
		return "PROCEED"
	case MsgAck:
		return "ACK"
	case MsgNotReady:
		return "NOT_READY"
	case MsgData:
		return "DATA"
	case MsgError:
		return "ERROR"
	default:
		return fmt.Sprintf("MESSAGE(%d)", uint32(m))
	}
}

// All wire integers are little-endian.

func writeType(w io.Writer, m MessageType) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(m))
	_, err := w.Write(buf[:])
	return err
}

func readType(r io.Reader) (MessageType, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return MsgInvalid, err
	}
	m := MessageType(binary.LittleEndian.Uint32(buf[:]))
	if m >= MsgInvalid {
		return MsgInvalid, fmt.Errorf("relay: unknown message type %d", uint32(m))
	}
	return m, nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// writeReconfigure sends RECONFIGURE with the frame dimensions.
func writeReconfigure(w io.Writer, width, height uint32) error {
	if err := writeType(w, MsgReconfigure); err != nil {
		return err
	}
	if err := writeU32(w, width); err != nil {
		return err
	}
	return writeU32(w, height)
}

// readReconfigureBody reads the dimensions that follow a RECONFIGURE type.
func readReconfigureBody(r io.Reader) (width, height uint32, err error) {
	if width, err = readU32(r); err != nil {
		return 0, 0, err
	}
	if height, err = readU32(r); err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

// writeDataHeader offers a frame of the given byte size.
func writeDataHeader(w io.Writer, size uint64) error {
	if err := writeType(w, MsgData); err != nil {
		return err
	}
	return writeU64(w, size)
}

// readDataSize reads the size that follows a DATA type and bounds-checks it.
func readDataSize(r io.Reader) (uint64, error) {
	size, err := readU64(r)
	if err != nil {
		return 0, err
	}
	if size == 0 || size > math.MaxUint32 {
		return 0, fmt.Errorf("relay: implausible frame size %d", size)
	}
	return size, nil
}
