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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/Joint-Rendering-Encoding/tsr/internal/surface"
)

// notReadyBackoff is how long the client waits before re-requesting after
// NOT_READY or a full local ring.
const notReadyBackoff = time.Millisecond

// Client is the relay-process end of the link. It pulls frames from the
// renderer one at a time and lands them in a local BufferRing for the
// relay's consumer (encoder, display, or a downstream hop).
//
// A socket error tears the session down; the relay process is expected to
// restart and dial again rather than resume a half-synchronized stream.
type Client struct {
	ring *BufferRing
	log  *slog.Logger

	conn      net.Conn
	closeOnce sync.Once

	// OnReconfigure, when set, is called after the local ring has been
	// resized for newly announced dimensions.
	OnReconfigure func(width, height uint32)
}

// Dial connects to the renderer's relay server at addr ("host:port").
// Incoming frames land in ring, which is resized to the announced frame
// dimensions on every RECONFIGURE.
func Dial(addr string, ring *BufferRing, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			logger.Warn("failed to disable Nagle", "err", err)
		}
	}
	logger.Info("relay connected", "addr", addr)
	return &Client{ring: ring, log: logger, conn: conn}, nil
}

// Run drives the stop-and-wait receive loop until the connection drops or
// ctx is canceled. The first message must be the server's RECONFIGURE.
func (c *Client) Run(ctx context.Context) error {
	// Unblock pending reads when the context goes away.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	// Opening handshake: the renderer announces dimensions first.
	msg, err := readType(c.conn)
	if err != nil {
		return c.runErr(ctx, fmt.Errorf("relay: reading opening message: %w", err))
	}
	if msg != MsgReconfigure {
		return fmt.Errorf("relay: expected opening RECONFIGURE, got %s", msg)
	}
	if err := c.handleReconfigure(); err != nil {
		return c.runErr(ctx, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeType(c.conn, MsgContinue); err != nil {
			return c.runErr(ctx, fmt.Errorf("relay: requesting frame: %w", err))
		}
		msg, err := readType(c.conn)
		if err != nil {
			return c.runErr(ctx, fmt.Errorf("relay: reading reply: %w", err))
		}
		switch msg {
		case MsgReconfigure:
			if err := c.handleReconfigure(); err != nil {
				return c.runErr(ctx, err)
			}
		case MsgNotReady:
			time.Sleep(notReadyBackoff)
		case MsgData:
			if err := c.receiveFrame(); err != nil {
				return c.runErr(ctx, err)
			}
		case MsgError:
			return errors.New("relay: peer reported error")
		default:
			return fmt.Errorf("relay: unexpected reply %s", msg)
		}
	}
}

// runErr maps errors caused by Close-on-cancel back to the context error.
func (c *Client) runErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// handleReconfigure reads the announced dimensions, resizes the local ring
// for RGBA8 frames of that size and acknowledges.
func (c *Client) handleReconfigure() error {
	width, height, err := readReconfigureBody(c.conn)
	if err != nil {
		return fmt.Errorf("relay: reading reconfigure: %w", err)
	}
	size := uint64(width) * uint64(height) * surface.FormatStride(gputypes.TextureFormatRGBA8Unorm)
	if size == 0 {
		return fmt.Errorf("relay: reconfigure to %dx%d", width, height)
	}
	if err := c.ring.Reset(size); err != nil {
		return err
	}
	if err := writeType(c.conn, MsgAck); err != nil {
		return fmt.Errorf("relay: acking reconfigure: %w", err)
	}
	c.log.Info("relay reconfigured", "width", width, "height", height, "frame_bytes", size)
	if c.OnReconfigure != nil {
		c.OnReconfigure(width, height)
	}
	return nil
}

// receiveFrame answers one DATA offer. With local space it commits with
// PROCEED and reads the frame; with a full ring it declines and the
// renderer drops the frame.
func (c *Client) receiveFrame() error {
	size, err := readDataSize(c.conn)
	if err != nil {
		return fmt.Errorf("relay: reading frame size: %w", err)
	}

	lock := c.ring.WriteLocker()
	lock.Lock()
	defer lock.Unlock()

	b := c.ring.NextEmptyBuffer(size)
	if b == nil {
		if err := writeType(c.conn, MsgNotReady); err != nil {
			return fmt.Errorf("relay: declining frame: %w", err)
		}
		time.Sleep(notReadyBackoff)
		return nil
	}
	if err := writeType(c.conn, MsgProceed); err != nil {
		c.ring.Release(b)
		return fmt.Errorf("relay: committing to frame: %w", err)
	}
	if _, err := io.ReadFull(c.conn, b.Bytes()); err != nil {
		c.ring.Release(b)
		return fmt.Errorf("relay: reading frame payload: %w", err)
	}
	c.ring.MarkReady(b)
	return nil
}

// Close shuts the connection down. Safe to call more than once and from a
// different goroutine than Run.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
