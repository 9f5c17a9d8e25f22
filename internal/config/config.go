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

// Package config loads the JSON run configuration shared by every process
// mode. One file describes a whole deployment; each process reads the same
// file and acts on the parts its mode needs, so the renderer and upscaler
// cannot disagree about resolutions, slot counts or the shared name.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Mode selects which role the process plays.
type Mode string

const (
	// ModeDefault runs renderer and upscaler in one process, still
	// exchanging frames through the shared-memory ring.
	ModeDefault Mode = "default"
	// ModeRenderer produces frames into the shared ring.
	ModeRenderer Mode = "renderer"
	// ModeUpscaler consumes frames from the shared ring.
	ModeUpscaler Mode = "upscaler"
	// ModeRelay pulls upscaled frames from a renderer over TCP.
	ModeRelay Mode = "relay"
)

func (m Mode) valid() bool {
	switch m {
	case ModeDefault, ModeRenderer, ModeUpscaler, ModeRelay:
		return true
	}
	return false
}

// Duration wraps time.Duration to accept "250ms"-style JSON strings.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Resolution is a surface size in pixels.
type Resolution struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (r Resolution) valid() bool { return r.Width > 0 && r.Height > 0 }

// FPSLimiter configures frame pacing.
type FPSLimiter struct {
	Enable        bool    `json:"enable"`
	UseGPULimiter bool    `json:"useGPULimiter"`
	TargetFPS     float64 `json:"targetFPS"`
	UseLowLatency bool    `json:"useLowLatency"`
}

// Relay configures the TCP frame relay.
type Relay struct {
	Enable  bool   `json:"enable"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// Addr returns "address:port".
func (r Relay) Addr() string { return fmt.Sprintf("%s:%d", r.Address, r.Port) }

// Streaming configures the outgoing encoder pipe.
type Streaming struct {
	Enable bool   `json:"enable"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// Addr returns "host:port".
func (s Streaming) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Telemetry configures the per-frame timing dump.
type Telemetry struct {
	Enable bool   `json:"enable"`
	Path   string `json:"path"`
	Depth  int    `json:"depth"`
}

// Config is the full run configuration.
type Config struct {
	Mode       Mode   `json:"mode"`
	SharedName string `json:"sharedName"`
	// SlotCount is the number of shared ring slots, between 2 and 10.
	SlotCount    int        `json:"slotCount"`
	Render       Resolution `json:"render"`
	Presentation Resolution `json:"presentation"`
	// HandoffTimeout arms the fence watchdog. Zero waits forever.
	HandoffTimeout Duration   `json:"handoffTimeout"`
	FPSLimiter     FPSLimiter `json:"fpsLimiter"`
	Relay          Relay      `json:"relay"`
	Streaming      Streaming  `json:"streaming"`
	Telemetry      Telemetry  `json:"telemetry"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Mode:         ModeDefault,
		SharedName:   "TSR_SHARED",
		SlotCount:    2,
		Render:       Resolution{Width: 1280, Height: 720},
		Presentation: Resolution{Width: 2560, Height: 1440},
		FPSLimiter: FPSLimiter{
			Enable:    true,
			TargetFPS: 60,
		},
		Relay: Relay{
			Address: "127.0.0.1",
			Port:    12800,
		},
		Streaming: Streaming{
			Host: "127.0.0.1",
			Port: 5000,
		},
		Telemetry: Telemetry{
			Path:  "tsr_timings.json",
			Depth: 512,
		},
	}
}

// Load reads path into the default configuration and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration's cross-field constraints.
func (c Config) Validate() error {
	if !c.Mode.valid() {
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.SharedName == "" {
		return fmt.Errorf("config: empty sharedName")
	}
	if c.SlotCount < 2 || c.SlotCount > 10 {
		return fmt.Errorf("config: slotCount %d, want 2..10", c.SlotCount)
	}
	if !c.Render.valid() {
		return fmt.Errorf("config: bad render resolution %dx%d", c.Render.Width, c.Render.Height)
	}
	if !c.Presentation.valid() {
		return fmt.Errorf("config: bad presentation resolution %dx%d", c.Presentation.Width, c.Presentation.Height)
	}
	if c.HandoffTimeout < 0 {
		return fmt.Errorf("config: negative handoffTimeout")
	}
	if c.FPSLimiter.Enable && c.FPSLimiter.TargetFPS <= 0 {
		return fmt.Errorf("config: fpsLimiter enabled with targetFPS %v", c.FPSLimiter.TargetFPS)
	}
	if c.Relay.Enable && (c.Relay.Address == "" || c.Relay.Port <= 0 || c.Relay.Port > 65535) {
		return fmt.Errorf("config: bad relay endpoint %s", c.Relay.Addr())
	}
	if c.Streaming.Enable && (c.Streaming.Host == "" || c.Streaming.Port <= 0 || c.Streaming.Port > 65535) {
		return fmt.Errorf("config: bad streaming endpoint %s", c.Streaming.Addr())
	}
	if c.Telemetry.Enable && (c.Telemetry.Path == "" || c.Telemetry.Depth < 1) {
		return fmt.Errorf("config: bad telemetry settings")
	}
	return nil
}
