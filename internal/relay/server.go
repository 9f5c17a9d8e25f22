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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Server is the renderer-side end of the relay link. It owns a TCP listener
// and serves frames out of a BufferRing that the renderer's frame loop
// fills. Each accepted connection is handled on its own goroutine.
//
// The server opens every connection by announcing the current frame
// dimensions (RECONFIGURE) and expecting an ACK before any frame flows. A
// later Reconfigure call re-announces on each connection before its next
// frame offer.
type Server struct {
	ring *BufferRing
	log  *slog.Logger

	// Dimensions are packed width<<32|height so a Reconfigure publishes
	// both atomically.
	dims atomic.Uint64
	gen  atomic.Uint64

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a relay server publishing frames of the given
// dimensions from ring. A nil logger falls back to slog.Default.
func NewServer(ring *BufferRing, width, height uint32, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{ring: ring, log: logger}
	s.dims.Store(uint64(width)<<32 | uint64(height))
	return s
}

func (s *Server) dimensions() (uint32, uint32) {
	d := s.dims.Load()
	return uint32(d >> 32), uint32(d)
}

// Reconfigure changes the announced frame dimensions. Every connection
// re-announces before offering its next frame. The caller is responsible
// for resetting the ring to the new frame size first.
func (s *Server) Reconfigure(width, height uint32) {
	s.dims.Store(uint64(width)<<32 | uint64(height))
	s.gen.Add(1)
}

// Listen binds the server to addr ("host:port").
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("relay server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until Close. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("relay: Serve before Listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("relay: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting, closes the listener and waits for in-flight
// connection handlers to drain.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.With("conn", id, "remote", conn.RemoteAddr().String())

	if tc, ok := conn.(*net.TCPConn); ok {
		// Frame offers are tiny control messages; never batch them.
		if err := tc.SetNoDelay(true); err != nil {
			log.Warn("failed to disable Nagle", "err", err)
		}
	}
	log.Info("relay connection accepted")

	gen := s.gen.Load()
	if err := s.announce(conn, log); err != nil {
		log.Error("reconfigure handshake failed", "err", err)
		return
	}

	frames := 0
	for {
		msg, err := readType(conn)
		if err != nil {
			log.Info("relay connection closed", "frames", frames, "err", err)
			return
		}
		switch msg {
		case MsgContinue:
			if g := s.gen.Load(); g != gen {
				gen = g
				if err := s.announce(conn, log); err != nil {
					log.Error("reconfigure failed", "err", err)
					return
				}
				// The relay re-requests after an ack.
				continue
			}
			sent, err := s.serveFrame(conn)
			if err != nil {
				log.Error("frame send failed", "err", err)
				return
			}
			if sent {
				frames++
			}
		case MsgError:
			log.Warn("peer reported error, closing")
			return
		default:
			log.Error("unexpected message", "type", msg.String())
			return
		}
	}
}

// announce sends RECONFIGURE with the current dimensions and waits for ACK.
func (s *Server) announce(conn net.Conn, log *slog.Logger) error {
	w, h := s.dimensions()
	if err := writeReconfigure(conn, w, h); err != nil {
		return err
	}
	resp, err := readType(conn)
	if err != nil {
		return err
	}
	if resp != MsgAck {
		return fmt.Errorf("expected ACK, got %s", resp)
	}
	log.Info("announced frame dimensions", "width", w, "height", h)
	return nil
}

// serveFrame answers one CONTINUE: offer the frame at the read cursor, or
// NOT_READY when there is none. The frame is released whether the peer
// takes it or skips it; a skipped frame is dropped, not retried.
func (s *Server) serveFrame(conn net.Conn) (sent bool, err error) {
	lock := s.ring.ReadLocker()
	lock.Lock()
	defer lock.Unlock()

	b := s.ring.NextReadyBuffer()
	if b == nil {
		return false, writeType(conn, MsgNotReady)
	}
	defer s.ring.Release(b)

	if err := writeDataHeader(conn, uint64(len(b.Bytes()))); err != nil {
		return false, err
	}
	resp, err := readType(conn)
	if err != nil {
		return false, err
	}
	if resp != MsgProceed {
		// Peer declined; the frame is skipped.
		return false, nil
	}
	if _, err := conn.Write(b.Bytes()); err != nil {
		return false, err
	}
	return true, nil
}
