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

import "fmt"

// SlotState is the readiness state of one ring slot. The fence counter's
// current value IS the state: the producer signals READY after filling a
// slot, the consumer signals IDLE after draining it.
type SlotState uint64

const (
	// StateIdle means the slot has room for the producer to fill.
	StateIdle SlotState = 0
	// StateReady means the slot holds a frame awaiting the consumer.
	StateReady SlotState = 1
)

func (s SlotState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReady:
		return "READY"
	default:
		return fmt.Sprintf("STATE(%d)", uint64(s))
	}
}
