package logger

import (
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Format is one of auto, console, logfmt or json.
	Format string        `toml:"format" yaml:"format"`
	Level  zapcore.Level `toml:"level" yaml:"level"`
}

// NewConfig returns a new instance of Config with defaults.
func NewConfig() Config {
	return Config{
		Format: "auto",
		Level:  zapcore.InfoLevel,
	}
}
