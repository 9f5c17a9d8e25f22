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
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer brings up a relay server on a loopback port and returns it
// with its address.
func startServer(t *testing.T, ring *BufferRing, width, height uint32) (*Server, string) {
	t.Helper()
	srv := NewServer(ring, width, height, testLogger())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, srv.Addr().String()
}

func TestRelayEndToEnd(t *testing.T) {
	// 2x2 RGBA8 frames: 16 bytes each.
	const width, height = 2, 2
	const frameSize = width * height * 4

	serverRing, err := NewBufferRing(2, frameSize)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}
	_, addr := startServer(t, serverRing, width, height)

	// Stage two frames on the renderer side before the relay asks.
	want := make([][]byte, 2)
	for i := range want {
		b := serverRing.NextEmptyBuffer(frameSize)
		if b == nil {
			t.Fatalf("staging frame %d: ring exhausted", i)
		}
		for j := range b.Bytes() {
			b.Bytes()[j] = byte(i*16 + j)
		}
		want[i] = append([]byte(nil), b.Bytes()...)
		serverRing.MarkReady(b)
	}

	// The client ring's size is wrong on purpose; the opening RECONFIGURE
	// must fix it.
	clientRing, err := NewBufferRing(2, 1)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := Dial(addr, clientRing, testLogger())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	// Drain both frames from the client ring in order.
	deadline := time.Now().Add(10 * time.Second)
	for i := range want {
		var got *Buffer
		for got == nil {
			if time.Now().After(deadline) {
				t.Fatalf("frame %d never arrived", i)
			}
			got = clientRing.NextReadyBuffer()
			if got == nil {
				time.Sleep(time.Millisecond)
			}
		}
		if !bytes.Equal(got.Bytes(), want[i]) {
			t.Fatalf("frame %d payload mismatch", i)
		}
		clientRing.Release(got)
	}

	if got := clientRing.BufferSize(); got != frameSize {
		t.Fatalf("client ring size = %d, want %d (reconfigure not applied)", got, frameSize)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestRelayReconfigureFullHD(t *testing.T) {
	const width, height = 1920, 1080
	const frameSize = uint64(width) * height * 4

	serverRing, err := NewBufferRing(2, frameSize)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}
	_, addr := startServer(t, serverRing, width, height)

	clientRing, err := NewBufferRing(2, 1)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}

	var gotW, gotH uint32
	reconfigured := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := Dial(addr, clientRing, testLogger())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	client.OnReconfigure = func(w, h uint32) {
		gotW, gotH = w, h
		close(reconfigured)
	}
	go client.Run(ctx)

	select {
	case <-reconfigured:
	case <-time.After(5 * time.Second):
		t.Fatal("no RECONFIGURE within timeout")
	}
	if gotW != width || gotH != height {
		t.Fatalf("reconfigured to %dx%d, want %dx%d", gotW, gotH, width, height)
	}
	if got := clientRing.BufferSize(); got != frameSize {
		t.Fatalf("client ring size = %d, want %d", got, frameSize)
	}
}

func TestRelayNotReadyThenFrame(t *testing.T) {
	const width, height = 2, 2
	const frameSize = width * height * 4

	serverRing, err := NewBufferRing(2, frameSize)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}
	_, addr := startServer(t, serverRing, width, height)

	clientRing, err := NewBufferRing(2, 1)
	if err != nil {
		t.Fatalf("NewBufferRing failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := Dial(addr, clientRing, testLogger())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	go client.Run(ctx)

	// No frame staged yet: the client should spin on NOT_READY without
	// falling over, then pick the frame up the moment it appears.
	time.Sleep(50 * time.Millisecond)

	b := serverRing.NextEmptyBuffer(frameSize)
	if b == nil {
		t.Fatal("server ring exhausted")
	}
	for j := range b.Bytes() {
		b.Bytes()[j] = 0xA5
	}
	serverRing.MarkReady(b)

	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("frame never arrived after NOT_READY phase")
		}
		if got := clientRing.NextReadyBuffer(); got != nil {
			if got.Bytes()[0] != 0xA5 {
				t.Fatalf("payload byte = %#x, want 0xA5", got.Bytes()[0])
			}
			clientRing.Release(got)
			return
		}
		time.Sleep(time.Millisecond)
	}
}
