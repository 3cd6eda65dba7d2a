// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/librescoot/nfc-binder/internal/config"
)

const (
	EnvLogLevel   = "NFCBINDER_LOG_LEVEL"
	EnvLogNoColor = "NFCBINDER_LOG_NOCOLOR"
)

// New returns a console logger writing to stdout.
func New(cfg config.Log) zerolog.Logger {
	return NewWriter(os.Stdout, cfg)
}

// NewWriter returns a console logger writing to out. The environment
// overrides the configured level and color setting.
func NewWriter(out io.Writer, cfg config.Log) zerolog.Logger {
	level, ok := ParseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		level = lvl
	}
	noColor := cfg.NoColor
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		noColor = v
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		output.PartsExclude = []string{zerolog.TimestampFieldName}
	}

	ctx := zerolog.New(output).Level(level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
