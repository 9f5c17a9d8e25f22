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

// Package handoff implements the cross-process frame handoff between the
// renderer and the upscaler: a fixed-size ring of shared-memory slots, each
// paired with a shared fence whose 64-bit counter value encodes the slot's
// readiness state, and a transfer engine that packs an ordered surface list
// into a slot (producer) or unpacks it (consumer) and flips the fence.
//
// Slots and fences are published as mmap'd files under /dev/shm with
// deterministic names derived from the process name and slot index
// (<name>_<i>_RESOURCE, <name>_<i>_FENCE); both processes must agree on the
// name and slot count out of band. Fence waits block on a futex word next to
// the counter, so the consumer wakes without polling the kernel.
//
// The fence is the sole cross-process synchronization primitive: a transfer
// asserts the expected counter value before copying and signals the opposite
// value after, making the two processes lock-step per slot. A transfer that
// finds the fence in the wrong state has hit a protocol desync and must not
// continue; callers treat that error as fatal.
package handoff
