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

// Package governor paces the frame loop to a target frame rate. It offers
// two mechanisms: a CPU spin that stalls the loop until the frame time
// elapses, and a GPU feedback mode that injects a tunable amount of GPU
// work and adjusts it against measured frame times, keeping the pipeline
// busy instead of the CPU.
package governor

import (
	"fmt"
	"log/slog"
	"time"
)

// LoadGenerator dispatches synthetic GPU work. The GPU pacing mode asks for
// a loop count; larger counts take longer on the device.
type LoadGenerator interface {
	Dispatch(loops uint32)
}

// LowLatencySleeper is a driver-provided pacing hook (Reflex-style). When
// present and enabled it replaces the governor's own pacing entirely.
type LowLatencySleeper interface {
	Sleep(frameID uint64) error
}

const (
	// historyDepth is how many recent frame times feed the GPU feedback
	// average.
	historyDepth = 32
	// dampenFactor scales each feedback correction to keep the loop from
	// oscillating.
	dampenFactor = 0.05

	minOverhead = 1.0
	maxOverhead = 1e6

	minTargetFrameTime = 50 * time.Microsecond
	maxTargetFrameTime = 200 * time.Millisecond
)

// Config selects the pacing mechanism and target rate.
type Config struct {
	// TargetFPS is the frame rate to pace to. Must be positive.
	TargetFPS float64
	// UseGPULimiter selects GPU feedback pacing instead of the CPU spin.
	UseGPULimiter bool
	// UseLowLatency hands pacing to the LowLatencySleeper when one is
	// available.
	UseLowLatency bool
}

// Governor paces one frame loop. It is not safe for concurrent use; a
// frame loop owns exactly one.
type Governor struct {
	target        time.Duration
	useGPU        bool
	useLowLatency bool

	load    LoadGenerator
	sleeper LowLatencySleeper
	log     *slog.Logger

	frameStart time.Time

	// GPU feedback state.
	history   [historyDepth]time.Duration
	histIdx   int
	histCount int
	overhead  float64
}

// New builds a governor. load may be nil unless UseGPULimiter is set;
// sleeper may be nil, in which case UseLowLatency falls back to normal
// pacing. A nil logger falls back to slog.Default.
func New(cfg Config, load LoadGenerator, sleeper LowLatencySleeper, logger *slog.Logger) (*Governor, error) {
	if cfg.TargetFPS <= 0 {
		return nil, fmt.Errorf("governor: target FPS %v, want > 0", cfg.TargetFPS)
	}
	if cfg.UseGPULimiter && load == nil {
		return nil, fmt.Errorf("governor: GPU pacing requires a load generator")
	}
	if logger == nil {
		logger = slog.Default()
	}

	target := time.Duration(float64(time.Second) / cfg.TargetFPS)
	if target < minTargetFrameTime {
		target = minTargetFrameTime
	}
	if target > maxTargetFrameTime {
		target = maxTargetFrameTime
	}

	g := &Governor{
		target:        target,
		useGPU:        cfg.UseGPULimiter,
		useLowLatency: cfg.UseLowLatency && sleeper != nil,
		load:          load,
		sleeper:       sleeper,
		log:           logger,
		overhead:      minOverhead,
	}
	return g, nil
}

// TargetFrameTime returns the clamped per-frame budget.
func (g *Governor) TargetFrameTime() time.Duration { return g.target }

// BeginFrame marks the start of a frame for pacing purposes.
func (g *Governor) BeginFrame() {
	g.frameStart = time.Now()
}

// EndFrame paces out the remainder of the frame. In CPU mode it spins until
// the frame budget elapses; in GPU mode it measures the frame, adjusts the
// injected load and dispatches it. With low latency enabled the driver
// sleep replaces both.
func (g *Governor) EndFrame(frameID uint64) {
	if g.useLowLatency {
		if err := g.sleeper.Sleep(frameID); err == nil {
			return
		}
		// Driver refused; fall through to our own pacing this frame.
	}

	if g.useGPU {
		g.paceGPU(time.Since(g.frameStart))
		return
	}
	g.spinUntil(g.frameStart.Add(g.target))
}

// spinUntil busy-waits to the deadline. A sleep would overshoot by the
// scheduler quantum, which at frame granularity is the whole budget.
func (g *Governor) spinUntil(deadline time.Time) {
	for time.Now().Before(deadline) {
	}
}

// paceGPU folds one measured frame time into the feedback loop and
// dispatches the corrected load.
func (g *Governor) paceGPU(measured time.Duration) {
	g.history[g.histIdx] = measured
	g.histIdx = (g.histIdx + 1) % historyDepth
	if g.histCount < historyDepth {
		g.histCount++
	}

	var sum time.Duration
	for i := 0; i < g.histCount; i++ {
		sum += g.history[i]
	}
	avg := sum / time.Duration(g.histCount)

	// Positive delta means frames run long: back the injected load off.
	// Negative means we have headroom: add load. Each step is dampened.
	deltaRatio := float64(avg-g.target) / float64(g.target)
	g.overhead -= g.overhead * deltaRatio * dampenFactor
	if g.overhead < minOverhead {
		g.overhead = minOverhead
	}
	if g.overhead > maxOverhead {
		g.overhead = maxOverhead
	}

	g.load.Dispatch(uint32(g.overhead))
}
