// Package logging bootstraps the process-wide zerolog logger and hands
// out per-component child loggers carrying a "component" field.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config mirrors the shape the base repo's hand-rolled logger used,
// now backed by zerolog.
type Config struct {
	Level       string
	Output      io.Writer
	JSONFormat  bool
	IncludeFile bool
}

func DefaultConfig() Config {
	return Config{Level: "info", Output: os.Stdout, JSONFormat: true}
}

// Init configures the global zerolog logger from cfg and returns the
// root logger.
func Init(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	logCtx := zerolog.New(output).With().Timestamp()
	if cfg.IncludeFile {
		logCtx = logCtx.Caller()
	}
	logger := logCtx.Logger()
	log.Logger = logger
	return logger
}

// log is the package-private handle Init updates; Component derives
// children from it so callers that construct a logger before Init runs
// still get a usable (if unconfigured) logger.
var log struct {
	Logger zerolog.Logger
}

func init() {
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Component returns a child logger tagging every entry with
// component=name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
