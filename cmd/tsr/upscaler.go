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
	"time"

	"github.com/Joint-Rendering-Encoding/tsr/internal/config"
	"github.com/Joint-Rendering-Encoding/tsr/internal/handoff"
	"github.com/Joint-Rendering-Encoding/tsr/internal/relay"
	"github.com/Joint-Rendering-Encoding/tsr/internal/streamer"
	"github.com/Joint-Rendering-Encoding/tsr/internal/surface"
	"github.com/Joint-Rendering-Encoding/tsr/internal/telemetry"
)

// attachRetryInterval paces ring-open attempts while the renderer is still
// coming up.
const attachRetryInterval = 100 * time.Millisecond

// runUpscaler attaches to the renderer's ring, drains frames as their
// fences flip READY, and upscales each to the presentation resolution. The
// fence wait is the blocking kind: the process sleeps in the kernel until
// the renderer signals, with the configured watchdog catching a dead peer.
func runUpscaler(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	descs := ringLayout(cfg.Render)

	ring, err := attachRing(ctx, cfg, descs, log)
	if err != nil {
		return err
	}
	defer ring.Close()

	engine := handoff.NewEngine(ring)
	surfs, err := newSurfaces(descs)
	if err != nil {
		return err
	}

	presentation := make([]byte, uint64(cfg.Presentation.Width)*uint64(cfg.Presentation.Height)*4)

	var relayRing *relay.BufferRing
	if cfg.Relay.Enable {
		relayRing, err = relay.NewBufferRing(cfg.SlotCount, uint64(len(presentation)))
		if err != nil {
			return err
		}
		srv := relay.NewServer(relayRing, cfg.Presentation.Width, cfg.Presentation.Height, log)
		if err := srv.Listen(cfg.Relay.Addr()); err != nil {
			return err
		}
		go srv.Serve()
		defer srv.Close()
	}

	var enc *streamer.Streamer
	if cfg.Streaming.Enable {
		enc = streamer.New(streamer.Config{
			Width:       cfg.Presentation.Width,
			Height:      cfg.Presentation.Height,
			FPS:         cfg.FPSLimiter.TargetFPS,
			Destination: cfg.Streaming.Addr(),
		}, log)
		defer enc.Close()
	}

	var hist *telemetry.History
	if cfg.Telemetry.Enable {
		hist, err = telemetry.NewHistory(cfg.Telemetry.Depth)
		if err != nil {
			return err
		}
		defer func() {
			if err := hist.Dump(cfg.Telemetry.Path); err != nil {
				log.Warn("telemetry dump failed", "err", err)
			}
		}()
	}

	slots := uint64(cfg.SlotCount)
	var consumed uint64

	for {
		slot := int(consumed % slots)
		err := ring.WaitSlot(ctx, slot, handoff.StateReady, cfg.HandoffTimeout.Std())
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Shutdown: drain whatever the renderer already published,
			// then leave every slot IDLE for its exit gate.
			n, derr := drainReady(engine, ring, surfs, int(slots), slot)
			consumed += uint64(n)
			if derr != nil {
				return derr
			}
			log.Info("upscaler stopped", "frames", consumed)
			return nil
		case errors.Is(err, handoff.ErrFenceTimeout):
			return err
		default:
			return err
		}

		begin := time.Now()
		if err := engine.TransferIn(surfs, slot); err != nil {
			return err
		}
		consumed++

		upscaleNearest(surfs[0], presentation, cfg.Presentation.Width, cfg.Presentation.Height)

		if relayRing != nil {
			publishFrame(relayRing, presentation)
		}
		var encoded time.Time
		if enc != nil {
			enc.WriteFrame(presentation)
			encoded = time.Now()
		}
		if hist != nil {
			hist.Record(telemetry.Sample{Frame: consumed - 1, Begin: begin, End: time.Now(), Encode: encoded})
		}
	}
}

// attachRing opens the shared ring, retrying while the renderer has not
// created it yet.
func attachRing(ctx context.Context, cfg config.Config, descs []surface.Descriptor, log *slog.Logger) (*handoff.Ring, error) {
	for {
		ring, err := handoff.OpenRing(cfg.SharedName, descs, cfg.SlotCount)
		if err == nil {
			log.Info("attached to shared ring", "name", cfg.SharedName, "slots", cfg.SlotCount)
			return ring, nil
		}
		log.Debug("ring not available yet", "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(attachRetryInterval):
		}
	}
}

// drainReady consumes every slot already READY, visiting each slot once in
// ring order starting at the read position and skipping the rest.
func drainReady(engine *handoff.Engine, ring *handoff.Ring, surfs []*surface.Surface, slots, start int) (int, error) {
	drained := 0
	for i := 0; i < slots; i++ {
		slot := (start + i) % slots
		if !ring.StateMatches(slot, handoff.StateReady) {
			continue
		}
		if err := engine.TransferIn(surfs, slot); err != nil {
			return drained, err
		}
		drained++
	}
	return drained, nil
}

// upscaleNearest expands the color surface to the presentation resolution
// with nearest-neighbor sampling. It stands in for the real upscaler pass;
// the handoff and pacing machinery around it neither knows nor cares.
func upscaleNearest(color *surface.Surface, dst []byte, dstW, dstH uint32) {
	src := color.Bytes()
	srcW := color.Desc().Width
	srcH := color.Desc().Height

	for y := uint32(0); y < dstH; y++ {
		sy := uint64(y) * uint64(srcH) / uint64(dstH)
		srcRow := sy * uint64(srcW) * 4
		dstRow := uint64(y) * uint64(dstW) * 4
		for x := uint32(0); x < dstW; x++ {
			sx := uint64(x) * uint64(srcW) / uint64(dstW)
			copy(dst[dstRow+uint64(x)*4:dstRow+uint64(x)*4+4], src[srcRow+sx*4:srcRow+sx*4+4])
		}
	}
}
