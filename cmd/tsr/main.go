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

// Command tsr runs one process of the decoupled rendering pipeline. The
// same binary plays every role; the mode comes from the config file or the
// -mode flag:
//
//	renderer  — produce frames into the shared ring
//	upscaler  — consume frames from the shared ring and upscale them
//	relay     — pull upscaled frames from a renderer over TCP
//	default   — renderer and upscaler in a single process
//
// A renderer and an upscaler sharing a machine coordinate purely through
// the shared-memory ring named in the config; the relay can run anywhere
// with a TCP path to the renderer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gogpu/gputypes"

	"github.com/Joint-Rendering-Encoding/tsr/internal/config"
	"github.com/Joint-Rendering-Encoding/tsr/internal/surface"
)

func main() {
	configPath := flag.String("config", "tsrconfig.json", "path to the JSON config file")
	modeFlag := flag.String("mode", "", "override the configured mode (renderer, upscaler, relay, default)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(*configPath, *modeFlag, log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath, modeOverride string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if modeOverride != "" {
		cfg.Mode = config.Mode(modeOverride)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	// Shutdown is cooperative: a signal cancels the context and the frame
	// loops hold until every in-flight frame has drained.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting", "mode", cfg.Mode, "sharedName", cfg.SharedName,
		"render", fmt.Sprintf("%dx%d", cfg.Render.Width, cfg.Render.Height),
		"presentation", fmt.Sprintf("%dx%d", cfg.Presentation.Width, cfg.Presentation.Height))

	switch cfg.Mode {
	case config.ModeRenderer:
		return runRenderer(ctx, cfg, log)
	case config.ModeUpscaler:
		return runUpscaler(ctx, cfg, log)
	case config.ModeRelay:
		return runRelay(ctx, cfg, log)
	case config.ModeDefault:
		return runDefault(ctx, cfg, log)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// ringLayout is the fixed surface set every frame carries through the ring.
// Order is part of the cross-process contract; both sides derive slot
// offsets from it.
func ringLayout(render config.Resolution) []surface.Descriptor {
	return []surface.Descriptor{
		{Name: "color", Width: render.Width, Height: render.Height, Format: gputypes.TextureFormatRGBA8Unorm},
		{Name: "depth", Width: render.Width, Height: render.Height, Format: gputypes.TextureFormatDepth24PlusStencil8},
		{Name: "motion", Width: render.Width, Height: render.Height, Format: gputypes.TextureFormatRGBA8Unorm},
	}
}

func newSurfaces(descs []surface.Descriptor) ([]*surface.Surface, error) {
	surfs := make([]*surface.Surface, len(descs))
	for i, d := range descs {
		s, err := surface.New(d)
		if err != nil {
			return nil, err
		}
		surfs[i] = s
	}
	return surfs, nil
}
