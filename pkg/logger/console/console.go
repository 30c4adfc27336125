package console

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// ConsoleLogger writes log lines to a terminal through charmbracelet/log.
type ConsoleLogger struct {
	logger *log.Logger
}

// ConsoleLoggerParams contains configuration for creating a ConsoleLogger.
type ConsoleLoggerParams struct {
	Debug bool
	// Prefix is printed before every message, e.g. the process name.
	Prefix string
	// Output defaults to stderr.
	Output io.Writer
}

func NewConsoleLogger(params ConsoleLoggerParams) *ConsoleLogger {
	level := log.InfoLevel
	if params.Debug {
		level = log.DebugLevel
	}
	out := params.Output
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleLogger{
		logger: log.NewWithOptions(out, log.Options{
			ReportTimestamp: true,
			Level:           level,
			Prefix:          params.Prefix,
		}),
	}
}

func (c *ConsoleLogger) Log(message string, keyvals ...any) {
	c.logger.Print(message, keyvals...)
}

func (c *ConsoleLogger) Info(message string, keyvals ...any) {
	c.logger.Info(message, keyvals...)
}

func (c *ConsoleLogger) Warn(message string, keyvals ...any) {
	c.logger.Warn(message, keyvals...)
}

func (c *ConsoleLogger) Error(message string, keyvals ...any) {
	c.logger.Error(message, keyvals...)
}

func (c *ConsoleLogger) Debug(message string, keyvals ...any) {
	c.logger.Debug(message, keyvals...)
}

func (c *ConsoleLogger) Fatal(message string, keyvals ...any) {
	c.logger.Fatal(message, keyvals...)
}
