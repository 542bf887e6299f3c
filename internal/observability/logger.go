package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format 日志输出格式。
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

var logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Setup 根据格式与级别重建全局 logger，返回新的实例。
func Setup(w io.Writer, format Format, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	out := w
	if format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return logger
}

// Logger 返回全局 logger。
func Logger() zerolog.Logger {
	return logger
}

// Component 返回带 component 字段的子 logger。
func Component(name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
