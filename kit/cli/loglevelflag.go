package cli

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// levelFlag adapts a zapcore.Level to pflag.Value.
type levelFlag zapcore.Level

func (l *levelFlag) String() string {
	return zapcore.Level(*l).String()
}

func (l *levelFlag) Set(s string) error {
	var level zapcore.Level
	if err := level.Set(s); err != nil {
		return fmt.Errorf("unknown log level %q; supported levels are debug, info, warn and error", s)
	}
	*l = levelFlag(level)
	return nil
}

func (l *levelFlag) Type() string {
	return "level"
}

// LevelVar defines a log level flag on fs that stores into p, starting at value.
func LevelVar(fs *pflag.FlagSet, p *zapcore.Level, name string, value zapcore.Level, usage string) {
	*p = value
	fs.Var((*levelFlag)(p), name, usage)
}
