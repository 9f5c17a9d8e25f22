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

// spinLoad is the injected pacing load for the GPU-feedback governor mode.
// Without a device to dispatch to, it burns a proportional amount of CPU;
// a real integration swaps in a compute dispatch behind the same interface.
type spinLoad struct{}

// loadSink keeps the spin's result observable.
var loadSink uint64

func (spinLoad) Dispatch(loops uint32) {
	var acc uint64
	for i := uint32(0); i < loops; i++ {
		acc = acc*6364136223846793005 + 1442695040888963407
	}
	loadSink = acc
}
