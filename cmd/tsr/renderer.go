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
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/Joint-Rendering-Encoding/tsr/internal/config"
	"github.com/Joint-Rendering-Encoding/tsr/internal/frameloop"
	"github.com/Joint-Rendering-Encoding/tsr/internal/governor"
	"github.com/Joint-Rendering-Encoding/tsr/internal/handoff"
	"github.com/Joint-Rendering-Encoding/tsr/internal/relay"
	"github.com/Joint-Rendering-Encoding/tsr/internal/streamer"
	"github.com/Joint-Rendering-Encoding/tsr/internal/surface"
	"github.com/Joint-Rendering-Encoding/tsr/internal/telemetry"
)

// runRenderer creates the shared ring, renders synthetic frames into it and
// paces the loop. The readiness gate spins on the next slot's fence
// reaching IDLE; shutdown waits for the upscaler to drain every slot so no
// frame is torn down mid-handoff.
func runRenderer(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	descs := ringLayout(cfg.Render)

	ring, err := handoff.CreateRing(cfg.SharedName, descs, cfg.SlotCount)
	if err != nil {
		return err
	}
	defer ring.Close()
	log.Info("shared ring created", "name", cfg.SharedName, "slots", cfg.SlotCount)

	engine := handoff.NewEngine(ring)
	surfs, err := newSurfaces(descs)
	if err != nil {
		return err
	}

	var gov *governor.Governor
	if cfg.FPSLimiter.Enable {
		gov, err = governor.New(governor.Config{
			TargetFPS:     cfg.FPSLimiter.TargetFPS,
			UseGPULimiter: cfg.FPSLimiter.UseGPULimiter,
			UseLowLatency: cfg.FPSLimiter.UseLowLatency,
		}, spinLoad{}, nil, log)
		if err != nil {
			return err
		}
	}

	var relayRing *relay.BufferRing
	if cfg.Relay.Enable {
		colorSize := descs[0].ByteSize()
		relayRing, err = relay.NewBufferRing(cfg.SlotCount, colorSize)
		if err != nil {
			return err
		}
		srv := relay.NewServer(relayRing, cfg.Render.Width, cfg.Render.Height, log)
		if err := srv.Listen(cfg.Relay.Addr()); err != nil {
			return err
		}
		go srv.Serve()
		defer srv.Close()
	}

	var enc *streamer.Streamer
	if cfg.Streaming.Enable {
		enc = streamer.New(streamer.Config{
			Width:       cfg.Render.Width,
			Height:      cfg.Render.Height,
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
	var produced uint64

	gate := frameloop.Gate{
		Ready:   func() bool { return ring.StateMatches(int(produced%slots), handoff.StateIdle) },
		CanExit: func() bool { return ring.AllSlotsMatch(handoff.StateIdle) },
	}

	err = frameloop.Run(ctx, gate, func(frame uint64) error {
		begin := time.Now()
		if gov != nil {
			gov.BeginFrame()
		}

		paintFrame(surfs, frame)

		slot := int(frame % slots)
		if err := engine.TransferOut(surfs, slot); err != nil {
			return err
		}
		produced = frame + 1

		if relayRing != nil {
			publishFrame(relayRing, surfs[0].Bytes())
		}
		var encoded time.Time
		if enc != nil {
			enc.WriteFrame(surfs[0].Bytes())
			encoded = time.Now()
		}
		if hist != nil {
			hist.Record(telemetry.Sample{Frame: frame, Begin: begin, End: time.Now(), Encode: encoded})
		}
		if gov != nil {
			gov.EndFrame(frame)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("renderer stopped", "frames", produced)
	return nil
}

// paintFrame stamps a deterministic per-frame pattern into every surface:
// the frame number in the first bytes, then a block keyed on frame and
// surface index. Enough to prove fidelity across the handoff without
// burning the whole frame budget on memset.
func paintFrame(surfs []*surface.Surface, frame uint64) {
	for i, s := range surfs {
		b := s.Bytes()
		binary.LittleEndian.PutUint64(b, frame)
		n := len(b)
		if n > 4096 {
			n = 4096
		}
		for j := 8; j < n; j++ {
			b[j] = byte(frame)*31 + byte(i)*17 + byte(j)
		}
	}
}

// publishFrame hands a copy of a finished frame to the relay's ring. A full
// ring means the relay is behind; the frame is simply not offered.
func publishFrame(ring *relay.BufferRing, frame []byte) {
	lock := ring.WriteLocker()
	lock.Lock()
	defer lock.Unlock()

	b := ring.NextEmptyBuffer(uint64(len(frame)))
	if b == nil {
		return
	}
	copy(b.Bytes(), frame)
	ring.MarkReady(b)
}
