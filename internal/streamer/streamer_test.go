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

package streamer

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultCommandLine(t *testing.T) {
	cfg := Config{Width: 1920, Height: 1080, FPS: 60, Destination: "10.0.0.2:5000"}
	argv := cfg.commandLine()
	if argv[0] != "ffmpeg" {
		t.Fatalf("argv[0] = %q, want ffmpeg", argv[0])
	}
	joined := strings.Join(argv, " ")
	for _, want := range []string{"1920x1080", "-r 60", "udp://10.0.0.2:5000", "-i -"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("command %q missing %q", joined, want)
		}
	}
}

func TestWriteFrameThroughPipe(t *testing.T) {
	// Stand in for the encoder with a shell that copies stdin to a file.
	out := filepath.Join(t.TempDir(), "sink")
	s := New(Config{
		Command: []string{"sh", "-c", "cat > " + out},
	}, testLogger())

	frame := []byte("frame-bytes")
	if err := s.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if s.Disabled() {
		t.Fatal("streaming disabled after a successful frame")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading sink: %v", err)
	}
	if string(data) != string(frame) {
		t.Fatalf("sink holds %q, want %q", data, frame)
	}
}

func TestDisableAfterRepeatedStartFailure(t *testing.T) {
	s := New(Config{
		Command: []string{"/nonexistent/encoder/binary"},
	}, testLogger())

	for i := 0; i < maxStartAttempts; i++ {
		if s.Disabled() {
			t.Fatalf("disabled after only %d attempts", i)
		}
		if err := s.WriteFrame([]byte("x")); err != nil {
			t.Fatalf("WriteFrame returned error: %v", err)
		}
	}
	if !s.Disabled() {
		t.Fatal("streaming not disabled after exhausting attempts")
	}

	// Disabled streamer swallows frames without relaunching anything.
	if err := s.WriteFrame([]byte("x")); err != nil {
		t.Fatalf("WriteFrame on disabled streamer: %v", err)
	}
}

func TestRecoveryAfterPipeBreak(t *testing.T) {
	// An encoder that exits immediately breaks the pipe; the streamer must
	// relaunch it on a later frame rather than disable on first failure.
	s := New(Config{
		Command: []string{"true"},
	}, testLogger())

	// First frame launches the short-lived encoder. Repeated writes
	// eventually hit the broken pipe and trigger a relaunch.
	deadline := time.Now().Add(5 * time.Second)
	failedOnce := false
	for !failedOnce && time.Now().Before(deadline) {
		s.WriteFrame([]byte("x"))
		if s.attempts > 0 {
			failedOnce = true
		}
		if s.Disabled() {
			// Acceptable end state for this encoder, but we only need to
			// observe a failure.
			failedOnce = true
		}
	}
	if !failedOnce {
		t.Fatal("pipe to an exiting encoder never failed")
	}
}
