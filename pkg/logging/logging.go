// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Setup sets the standard logger level and formatter. format is "text" or
// "json"; out may be nil to keep the current output.
func Setup(level, format string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}

	var formatter logrus.Formatter
	switch format {
	case "", "text":
		formatter = &logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		}
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(formatter)
	if out != nil {
		logrus.SetOutput(out)
	}
	return nil
}
