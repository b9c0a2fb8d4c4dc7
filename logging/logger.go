// Package logging builds the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Supported output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLogger creates a logger writing to stdout with the given level and format.
// An empty level means info.
func NewLogger(level, format string) (*logrus.Logger, error) {
	return newLogger(os.Stdout, level, format)
}

func newLogger(out io.Writer, level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	logger.SetLevel(lvl)

	// Disable the built-in caller output; SourceFormatter adds a shorter one.
	noCaller := func(*runtime.Frame) (string, string) { return "", "" }

	var underlying logrus.Formatter
	switch strings.ToLower(format) {
	case "", FormatText:
		underlying = &logrus.TextFormatter{
			FullTimestamp:    true,
			CallerPrettyfier: noCaller,
		}
	case FormatJSON:
		underlying = &logrus.JSONFormatter{
			CallerPrettyfier: noCaller,
		}
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	logger.SetFormatter(&SourceFormatter{Underlying: underlying})
	logger.SetReportCaller(true)

	return logger, nil
}
