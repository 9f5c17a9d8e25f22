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

package governor

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingLoad struct {
	loops []uint32
}

func (r *recordingLoad) Dispatch(loops uint32) {
	r.loops = append(r.loops, loops)
}

type recordingSleeper struct {
	frames []uint64
	err    error
}

func (r *recordingSleeper) Sleep(frameID uint64) error {
	r.frames = append(r.frames, frameID)
	return r.err
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{TargetFPS: 0}, nil, nil, testLogger()); err == nil {
		t.Fatal("zero FPS accepted")
	}
	if _, err := New(Config{TargetFPS: 60, UseGPULimiter: true}, nil, nil, testLogger()); err == nil {
		t.Fatal("GPU mode without load generator accepted")
	}
	if _, err := New(Config{TargetFPS: 60}, nil, nil, testLogger()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestTargetFrameTimeClamped(t *testing.T) {
	fast, err := New(Config{TargetFPS: 1e6}, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := fast.TargetFrameTime(); got != minTargetFrameTime {
		t.Fatalf("fast target = %v, want clamp to %v", got, minTargetFrameTime)
	}

	slow, err := New(Config{TargetFPS: 0.5}, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := slow.TargetFrameTime(); got != maxTargetFrameTime {
		t.Fatalf("slow target = %v, want clamp to %v", got, maxTargetFrameTime)
	}
}

func TestCPUPacingLowerBound(t *testing.T) {
	// 500 FPS keeps the spin short while still being measurable.
	g, err := New(Config{TargetFPS: 500}, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	target := g.TargetFrameTime()

	start := time.Now()
	const frames = 20
	for i := 0; i < frames; i++ {
		g.BeginFrame()
		g.EndFrame(uint64(i))
	}
	elapsed := time.Since(start)

	// An instant workload still takes the full per-frame budget, and the
	// spin must not overshoot it by more than scheduling noise.
	if elapsed < frames*target {
		t.Fatalf("%d frames took %v, want >= %v", frames, elapsed, frames*target)
	}
	if elapsed > frames*target+50*time.Millisecond {
		t.Fatalf("%d frames took %v, way past %v", frames, elapsed, frames*target)
	}
}

func TestGPUFeedbackStableAtTarget(t *testing.T) {
	load := &recordingLoad{}
	g, err := New(Config{TargetFPS: 100, UseGPULimiter: true}, load, nil, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Measured time exactly on target: zero delta, so the overhead must
	// hold perfectly still instead of drifting.
	for i := 0; i < 500; i++ {
		g.paceGPU(g.target)
	}
	first := load.loops[0]
	for i, loops := range load.loops {
		if loops != first {
			t.Fatalf("dispatch %d drifted: %d -> %d", i, first, loops)
		}
	}
}

func TestGPUFeedbackDirection(t *testing.T) {
	load := &recordingLoad{}
	g, err := New(Config{TargetFPS: 100, UseGPULimiter: true}, load, nil, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Frames running well under target: the governor should grow the
	// injected load.
	for i := 0; i < 50; i++ {
		g.paceGPU(g.target / 2)
	}
	grown := load.loops[len(load.loops)-1]
	if grown <= uint32(minOverhead) {
		t.Fatalf("load did not grow under fast frames: %d", grown)
	}

	// Frames running over target: the load should shrink back down.
	for i := 0; i < 200; i++ {
		g.paceGPU(g.target * 2)
	}
	shrunk := load.loops[len(load.loops)-1]
	if shrunk >= grown {
		t.Fatalf("load did not shrink under slow frames: %d -> %d", grown, shrunk)
	}
}

func TestGPUFeedbackClamps(t *testing.T) {
	load := &recordingLoad{}
	g, err := New(Config{TargetFPS: 100, UseGPULimiter: true}, load, nil, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Hammer the loop with extreme inputs in both directions; the
	// dispatched loop count must stay inside its clamps.
	for i := 0; i < 5000; i++ {
		g.paceGPU(time.Nanosecond)
	}
	for i := 0; i < 5000; i++ {
		g.paceGPU(time.Second)
	}
	for _, loops := range load.loops {
		if loops < uint32(minOverhead) || loops > uint32(maxOverhead) {
			t.Fatalf("dispatched loops %d outside [%v, %v]", loops, minOverhead, maxOverhead)
		}
	}
}

func TestLowLatencyBypass(t *testing.T) {
	load := &recordingLoad{}
	sleeper := &recordingSleeper{}
	g, err := New(Config{TargetFPS: 100, UseGPULimiter: true, UseLowLatency: true}, load, sleeper, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	g.BeginFrame()
	g.EndFrame(42)

	if len(sleeper.frames) != 1 || sleeper.frames[0] != 42 {
		t.Fatalf("sleeper frames = %v, want [42]", sleeper.frames)
	}
	// The driver sleep replaces the GPU load dispatch.
	if len(load.loops) != 0 {
		t.Fatalf("load dispatched %v despite low-latency bypass", load.loops)
	}
}

func TestLowLatencyFallbackOnError(t *testing.T) {
	load := &recordingLoad{}
	sleeper := &recordingSleeper{err: errors.New("driver unavailable")}
	g, err := New(Config{TargetFPS: 100, UseGPULimiter: true, UseLowLatency: true}, load, sleeper, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	g.BeginFrame()
	g.EndFrame(1)

	if len(load.loops) != 1 {
		t.Fatalf("load dispatches = %d, want 1 after sleeper error", len(load.loops))
	}
}

func TestLowLatencyWithoutSleeper(t *testing.T) {
	// UseLowLatency without a sleeper silently falls back to normal pacing.
	g, err := New(Config{TargetFPS: 500, UseLowLatency: true}, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	start := time.Now()
	g.BeginFrame()
	g.EndFrame(0)
	if time.Since(start) < g.TargetFrameTime() {
		t.Fatal("no pacing applied without a sleeper")
	}
}
