// Package log provides the logrus formatter shared by template_sync commands.
package log

import (
	"time"

	"github.com/sirupsen/logrus"
)

// NewFormatter returns a text formatter with full timestamps. Colors are
// forced off when noColors is set, e.g. when output is not a terminal.
func NewFormatter(noColors bool) logrus.Formatter {
	return &logrus.TextFormatter{
		DisableColors:          noColors,
		ForceColors:            !noColors,
		FullTimestamp:          true,
		TimestampFormat:        time.RFC3339,
		DisableLevelTruncation: true,
		PadLevelText:           true,
		QuoteEmptyFields:       true,
	}
}
