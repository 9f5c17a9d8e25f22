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

// Package telemetry records per-frame timing samples into a fixed-depth
// rolling window and dumps the window as JSON on shutdown. It is meant for
// offline latency analysis, not live metrics.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Sample is one frame's timing record.
type Sample struct {
	Frame  uint64    `json:"frame"`
	Begin  time.Time `json:"begin"`
	End    time.Time `json:"end"`
	Encode time.Time `json:"encode,omitzero"`
}

// Duration returns the frame's wall time.
func (s Sample) Duration() time.Duration {
	return s.End.Sub(s.Begin)
}

// History is a rolling window of the most recent samples. Safe for one
// writer and concurrent readers.
type History struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	full    bool
}

// NewHistory creates a window holding up to depth samples.
func NewHistory(depth int) (*History, error) {
	if depth < 1 {
		return nil, fmt.Errorf("telemetry: history depth %d, want >= 1", depth)
	}
	return &History{samples: make([]Sample, depth)}, nil
}

// Record appends a sample, evicting the oldest once the window is full.
func (h *History) Record(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = s
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of recorded samples, capped at the window depth.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.samples)
	}
	return h.next
}

// Snapshot returns the recorded samples oldest-first.
func (h *History) Snapshot() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		return append([]Sample(nil), h.samples[:h.next]...)
	}
	out := make([]Sample, 0, len(h.samples))
	out = append(out, h.samples[h.next:]...)
	out = append(out, h.samples[:h.next]...)
	return out
}

// Dump writes the window to path as indented JSON, replacing any existing
// file.
func (h *History) Dump(path string) error {
	data, err := json.MarshalIndent(h.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("telemetry: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("telemetry: write %s: %w", path, err)
	}
	return nil
}
