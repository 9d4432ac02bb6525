package configuration

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// SetupLogger installs the default slog logger. DEBUG gets colored text output,
// everything else is JSON on stderr.
func SetupLogger(level string) *slog.Logger {
	return setupLogger(level, os.Stderr)
}

func setupLogger(level string, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if level != "" {
		if err := logLevel.UnmarshalText([]byte(level)); err != nil {
			logLevel = slog.LevelInfo
		}
	}

	var logger *slog.Logger
	if logLevel == slog.LevelDebug {
		replacer := func(_ []string, a slog.Attr) slog.Attr {
			if err, ok := a.Value.Any().(error); ok {
				aErr := tint.Err(err)
				aErr.Key = a.Key
				return aErr
			}
			return a
		}
		logger = slog.New(tint.NewHandler(w, &tint.Options{
			Level:       slog.LevelDebug,
			TimeFormat:  time.TimeOnly,
			ReplaceAttr: replacer,
			AddSource:   true,
		}))
	} else {
		logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
	}
	slog.SetDefault(logger)
	return logger
}
