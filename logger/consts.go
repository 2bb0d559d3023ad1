package logger

import (
	"fmt"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
)

type Level = logger.Level

const (
	LevelFatal   = logger.LevelFatal
	LevelPanic   = logger.LevelPanic
	LevelError   = logger.LevelError
	LevelWarning = logger.LevelWarning
	LevelInfo    = logger.LevelInfo
	LevelDebug   = logger.LevelDebug
	LevelTrace   = logger.LevelTrace
)

// ParseLevel accepts the names used by the --log-level flag.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "fatal":
		return LevelFatal, nil
	case "panic":
		return LevelPanic, nil
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "info":
		return LevelInfo, nil
	case "debug", "verbose":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	}
	return logger.LevelUndefined, fmt.Errorf("unknown logging level '%s'", s)
}
