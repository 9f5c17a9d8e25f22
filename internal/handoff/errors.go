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

package handoff

import "errors"

var (
	// ErrFutexTimeout indicates a futex wait timed out.
	ErrFutexTimeout = errors.New("handoff: futex wait timed out")

	// ErrFutexNotSupported indicates the platform has no futex; fence waits
	// fall back to polling.
	ErrFutexNotSupported = errors.New("handoff: futex operations not supported on this platform")

	// ErrFenceTimeout indicates a fence wait exceeded its watchdog timeout
	// without the fence reaching the expected state. The peer is presumed
	// hung or dead.
	ErrFenceTimeout = errors.New("handoff: fence wait timed out")

	// ErrSlotState indicates a transfer found a slot fence in a state other
	// than the one its direction requires. The two processes have lost
	// lock-step; callers must treat this as fatal.
	ErrSlotState = errors.New("handoff: slot is not in the required state")

	// ErrLayoutMismatch indicates the surface list handed to a transfer does
	// not match the layout the ring was created with.
	ErrLayoutMismatch = errors.New("handoff: surface list does not match ring layout")

	// ErrClosed indicates a wait on a closed fence or ring.
	ErrClosed = errors.New("handoff: use of closed object")
)
