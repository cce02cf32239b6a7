package config

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger. Logs go to stderr and,
// when cfg.File is set, also to that file without colors. The returned
// function closes the log file.
func InitLogger(cfg LogConfig) (func(), error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("config: parse log level: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var stderr io.Writer = os.Stderr
	if cfg.Format != "json" {
		stderr = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if cfg.File == "" {
		log.Logger = log.Output(stderr)
		return func() {}, nil
	}

	logFile, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var fileWriter io.Writer = logFile
	if cfg.Format != "json" {
		fileWriter = zerolog.ConsoleWriter{Out: logFile, NoColor: true}
	}
	log.Logger = log.Output(io.MultiWriter(stderr, fileWriter))

	return func() { _ = logFile.Close() }, nil
}
