// handler.go - slog.Handler wrapper for simulator diagnostics

// Package obslog wraps log/slog the way rcornwell-S370/util/logger does: a
// single-line formatter guarded by a mutex, mirroring above-threshold
// records to stderr in addition to the configured sink. It exists so
// translation-pipeline lifecycle events and dispatch tracing share one
// line format regardless of which component logs them.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Handler formats records as "<time> <LEVEL>: <message> <attrs...>" on a
// single line, matching rcornwell-S370's LogHandler.
type Handler struct {
	out   io.Writer
	mu    *sync.Mutex
	mirror slog.Level // records at or above this level also go to stderr
}

// New creates a Handler writing to out. mirrorAt controls the stderr
// mirroring threshold; pass slog.LevelError+1 (or higher) to disable
// mirroring entirely.
func New(out io.Writer, mirrorAt slog.Level) *Handler {
	return &Handler{out: out, mu: &sync.Mutex{}, mirror: mirrorAt}
}

func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &withAttrs{Handler: h, attrs: attrs}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return h // grouping is not meaningful for a flat single-line format
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	return h.handle(ctx, r, nil)
}

func (h *Handler) handle(_ context.Context, r slog.Record, extra []slog.Attr) error {
	parts := []string{r.Time.Format("2006-01-02T15:04:05.000"), r.Level.String() + ":", r.Message}
	for _, a := range extra {
		parts = append(parts, a.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.String())
		return true
	})
	line := strings.Join(parts, " ") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.out != nil {
		if _, err := io.WriteString(h.out, line); err != nil {
			return err
		}
	}
	if r.Level >= h.mirror && h.out != os.Stderr {
		io.WriteString(os.Stderr, line)
	}
	return nil
}

type withAttrs struct {
	*Handler
	attrs []slog.Attr
}

func (w *withAttrs) Handle(ctx context.Context, r slog.Record) error {
	return w.Handler.handle(ctx, r, w.attrs)
}

// New logger convenience constructors.

// NewLogger builds a *slog.Logger backed by a Handler writing to out,
// mirroring Warn-and-above records to stderr.
func NewLogger(out io.Writer) *slog.Logger {
	return slog.New(New(out, slog.LevelWarn))
}
