package obslog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestHandlerFormatsSingleLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(New(&buf, slog.LevelError+1))

	logger.Info("block compiled", "pc", 0x1000, "workers", 4)

	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", out)
	}
	if !strings.Contains(out, "INFO:") {
		t.Fatalf("expected level in output, got %q", out)
	}
	if !strings.Contains(out, "block compiled") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "pc=4096") {
		t.Fatalf("expected attr in output, got %q", out)
	}
}

func TestHandlerWithAttrsCarriesAcrossRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(New(&buf, slog.LevelError+1)).With("cpu", "cpu0")

	logger.Warn("compile failed")

	out := buf.String()
	if !strings.Contains(out, "cpu=cpu0") {
		t.Fatalf("expected carried attr in output, got %q", out)
	}
	if !strings.Contains(out, "compile failed") {
		t.Fatalf("expected message in output, got %q", out)
	}
}

func TestHandlerMirrorsAboveThresholdToStderr(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	realStderr := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = realStderr }()

	var buf bytes.Buffer
	h := New(&buf, slog.LevelWarn)
	logger := slog.New(h)
	logger.Warn("toolchain unreachable")

	w.Close()
	mirrored, _ := io.ReadAll(r)

	if !strings.Contains(string(mirrored), "toolchain unreachable") {
		t.Fatalf("expected warn-level record mirrored to stderr, got %q", string(mirrored))
	}
}

func TestHandlerDoesNotMirrorBelowThreshold(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	realStderr := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = realStderr }()

	var buf bytes.Buffer
	h := New(&buf, slog.LevelWarn)
	logger := slog.New(h)
	logger.Info("routine step")

	w.Close()
	mirrored, _ := io.ReadAll(r)

	if len(mirrored) != 0 {
		t.Fatalf("expected no stderr mirroring below threshold, got %q", string(mirrored))
	}
}

func TestHandlerEnabledAlwaysTrue(t *testing.T) {
	h := New(&bytes.Buffer{}, slog.LevelWarn)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("expected Handler to report all levels enabled")
	}
}

func TestNewLoggerWritesToSink(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	logger.Error("fatal during compile")
	if !strings.Contains(buf.String(), "fatal during compile") {
		t.Fatalf("expected message written to sink, got %q", buf.String())
	}
}
