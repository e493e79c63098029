package cli

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/docsync/internal/config"
)

// Rotation limits for the log file.
const (
	logMaxSizeMB  = 50
	logMaxBackups = 3
	logMaxAgeDays = 28
)

// newLogger builds the process logger from cfg. Records go to stderr, or to
// a size-rotated file when cfg.File is set; the returned closer is non-nil
// only in the latter case.
func newLogger(cfg config.Log, stderr io.Writer) (*slog.Logger, io.Closer) {
	var (
		w      = stderr
		closer io.Closer
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), closer
}
