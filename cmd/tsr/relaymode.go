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

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Joint-Rendering-Encoding/tsr/internal/config"
	"github.com/Joint-Rendering-Encoding/tsr/internal/relay"
	"github.com/Joint-Rendering-Encoding/tsr/internal/streamer"
)

// relayRingDepth is the relay's local buffer count: one frame being
// received, one being consumed, one slack.
const relayRingDepth = 3

// runRelay connects to a renderer's relay endpoint, lands incoming frames
// in a local ring and feeds them to the encoder. A dropped connection ends
// the run; a fresh process (or supervisor restart) re-dials rather than
// resuming a half-synchronized stream.
func runRelay(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// The opening RECONFIGURE replaces this size before any frame lands.
	ring, err := relay.NewBufferRing(relayRingDepth, 1)
	if err != nil {
		return err
	}

	// The encoder is swapped on reconfigure from the connection goroutine
	// while the consumer goroutine writes frames to it.
	var encMu sync.Mutex
	var enc *streamer.Streamer
	defer func() {
		encMu.Lock()
		defer encMu.Unlock()
		if enc != nil {
			enc.Close()
		}
	}()

	client, err := relay.Dial(cfg.Relay.Addr(), ring, log)
	if err != nil {
		return err
	}
	defer client.Close()

	client.OnReconfigure = func(width, height uint32) {
		if !cfg.Streaming.Enable {
			return
		}
		encMu.Lock()
		defer encMu.Unlock()
		// Frame geometry changed: the encoder has to restart with it.
		if enc != nil {
			enc.Close()
		}
		enc = streamer.New(streamer.Config{
			Width:       width,
			Height:      height,
			FPS:         cfg.FPSLimiter.TargetFPS,
			Destination: cfg.Streaming.Addr(),
		}, log)
	}

	consumeCtx, stopConsume := context.WithCancel(ctx)
	defer stopConsume()
	consumed := make(chan uint64, 1)
	go func() {
		consumed <- consumeFrames(consumeCtx, ring, func(frame []byte) {
			encMu.Lock()
			defer encMu.Unlock()
			if enc != nil {
				enc.WriteFrame(frame)
			}
		})
	}()

	err = client.Run(ctx)
	stopConsume()
	frames := <-consumed
	log.Info("relay stopped", "frames", frames)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// consumeFrames drains the ring until ctx is done, handing each frame to
// sink, and returns the number of frames consumed.
func consumeFrames(ctx context.Context, ring *relay.BufferRing, sink func([]byte)) uint64 {
	var frames uint64
	lock := ring.ReadLocker()
	for {
		if ctx.Err() != nil {
			return frames
		}
		lock.Lock()
		b := ring.NextReadyBuffer()
		if b == nil {
			lock.Unlock()
			time.Sleep(time.Millisecond)
			continue
		}
		sink(b.Bytes())
		ring.Release(b)
		lock.Unlock()
		frames++
	}
}
