package fabric

import (
	"context"
	"log/slog"
)

// nopLogger discards all output. Used as the default for every component
// that accepts an injectable *slog.Logger via a WithLogger-style option,
// so the library stays silent unless a caller opts in.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
