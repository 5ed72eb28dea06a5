package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Config selects the level, encoding and destination of a Logger.
type Config struct {
	// Level is one of debug, info, warn, error or fatal. Empty means info.
	Level string
	// Format is json (default), text or console.
	Format string
	// Output is stdout, stderr (default), none, or a file path that is
	// appended to.
	Output string
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}
}

// NewLogger builds a Logger from cfg. A nil cfg means DefaultConfig.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	output, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewWithFormat(level, format, output), nil
}

// ParseLevel accepts level names in any case, plus "warning".
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel, nil
	case "INFO", "":
		return InfoLevel, nil
	case "WARN", "WARNING":
		return WarnLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	case "FATAL":
		return FatalLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// ParseFormat accepts json, text and console (an alias of text).
func ParseFormat(format string) (Format, error) {
	switch strings.ToLower(format) {
	case "json", "":
		return JSONFormat, nil
	case "text", "console":
		return TextFormat, nil
	}
	return JSONFormat, fmt.Errorf("unknown log format %q", format)
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "stderr", "":
		return os.Stderr, nil
	case "none":
		return io.Discard, nil
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}
