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

// Package frameloop runs the readiness-gated frame loop shared by the
// renderer and upscaler processes. Each iteration waits for the gate to
// open (the next ring slot reaching the state this side consumes), runs the
// frame body, and moves on. Shutdown is cooperative: after cancellation the
// loop stops producing frames but holds the process until the gate's exit
// condition reports the peer has drained everything in flight.
package frameloop

import (
	"context"
	"fmt"
	"runtime"
)

// Gate decides when a frame may run and when the loop may exit.
type Gate struct {
	// Ready reports whether the next frame's slot is in the state this
	// side needs. The loop yields and re-checks while it returns false.
	Ready func() bool
	// CanExit reports whether shutdown may complete. Nil means exit is
	// always allowed once the context is done.
	CanExit func() bool
}

// Body is one frame's work. frame is the loop's monotonically increasing
// frame counter, starting at 0.
type Body func(frame uint64) error

// Run drives the loop until ctx is canceled and the gate allows exit, or
// until the body fails. A body error aborts immediately, without waiting
// for the exit condition; it signals a protocol desync, not a clean stop.
// Run returns nil on a clean shutdown.
func Run(ctx context.Context, gate Gate, body Body) error {
	if gate.Ready == nil {
		return fmt.Errorf("frameloop: gate has no Ready condition")
	}

	var frame uint64
	for {
		if ctx.Err() != nil {
			// Shutdown: no new frames. Wait for the peer to drain what is
			// already in flight before tearing shared state down.
			for gate.CanExit != nil && !gate.CanExit() {
				runtime.Gosched()
			}
			return nil
		}

		if !gate.Ready() {
			runtime.Gosched()
			continue
		}

		if err := body(frame); err != nil {
			return fmt.Errorf("frameloop: frame %d: %w", frame, err)
		}
		frame++
	}
}
