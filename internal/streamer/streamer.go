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

// Package streamer pipes raw presentation frames into an external encoder
// process (ffmpeg by default) over stdin. The encoder is best-effort: if it
// cannot be started or its pipe breaks repeatedly, streaming is disabled
// for the rest of the session with a single warning, and the frame loop
// carries on unaffected.
package streamer

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
)

// maxStartAttempts bounds how often a failed encoder is relaunched before
// streaming is disabled for the session.
const maxStartAttempts = 3

// Config describes the outgoing stream.
type Config struct {
	Width  uint32
	Height uint32
	FPS    float64
	// Destination is the MPEG-TS target, "host:port".
	Destination string
	// Command overrides the encoder command line. Empty means ffmpeg with
	// rawvideo input on stdin.
	Command []string
}

func (c Config) commandLine() []string {
	if len(c.Command) > 0 {
		return c.Command
	}
	size := fmt.Sprintf("%dx%d", c.Width, c.Height)
	return []string{
		"ffmpeg",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", size,
		"-r", strconv.FormatFloat(c.FPS, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-f", "mpegts",
		"udp://" + c.Destination,
	}
}

// Streamer feeds frames to the encoder process. Not safe for concurrent
// use; the frame loop owns it.
type Streamer struct {
	cfg Config
	log *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	attempts int
	disabled bool
}

// New creates a streamer. The encoder is launched lazily on the first
// frame. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{cfg: cfg, log: logger}
}

// Disabled reports whether streaming has been given up on for this session.
func (s *Streamer) Disabled() bool { return s.disabled }

func (s *Streamer) start() error {
	argv := s.cfg.commandLine()
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("streamer: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("streamer: starting %s: %w", argv[0], err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.log.Info("encoder started", "command", argv[0], "dest", s.cfg.Destination)
	return nil
}

func (s *Streamer) stop() {
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil {
		s.cmd.Wait()
		s.cmd = nil
	}
}

// fail records one encoder failure and disables streaming once the attempt
// budget is spent. The warning is logged exactly once per disable.
func (s *Streamer) fail(err error) {
	s.stop()
	s.attempts++
	if s.attempts >= maxStartAttempts {
		s.disabled = true
		s.log.Warn("streaming disabled for this session", "attempts", s.attempts, "err", err)
		return
	}
	s.log.Info("encoder failed, will retry", "attempt", s.attempts, "err", err)
}

// WriteFrame sends one raw frame to the encoder. Encoder trouble is
// absorbed: the frame is dropped, the encoder is relaunched on the next
// frame, and after repeated failures streaming is disabled. The returned
// error is always nil today; the signature leaves room for callers that
// want to treat persistent failure as fatal.
func (s *Streamer) WriteFrame(frame []byte) error {
	if s.disabled {
		return nil
	}
	if s.cmd == nil {
		if err := s.start(); err != nil {
			s.fail(err)
			return nil
		}
	}
	if _, err := s.stdin.Write(frame); err != nil {
		s.fail(fmt.Errorf("streamer: writing frame: %w", err))
		return nil
	}
	// A delivered frame proves the encoder is healthy again.
	s.attempts = 0
	return nil
}

// Close shuts the encoder down and waits for it to exit.
func (s *Streamer) Close() error {
	s.stop()
	return nil
}
