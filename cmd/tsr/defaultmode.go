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

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Joint-Rendering-Encoding/tsr/internal/config"
)

// runDefault runs the renderer and the upscaler in one process, still
// connected through the shared-memory ring so the handoff path is the same
// one two separate processes would take. Presentation-side outputs (relay,
// streaming, telemetry) belong to the upscaler half; the renderer half runs
// bare.
func runDefault(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	rendererCfg := cfg
	rendererCfg.Relay.Enable = false
	rendererCfg.Streaming.Enable = false
	rendererCfg.Telemetry.Enable = false

	errs := make(chan error, 2)
	go func() {
		errs <- runRenderer(ctx, rendererCfg, log.With("role", "renderer"))
	}()
	go func() {
		errs <- runUpscaler(ctx, cfg, log.With("role", "upscaler"))
	}()

	return errors.Join(<-errs, <-errs)
}
