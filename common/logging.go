// Package common provides the shared logging infrastructure and document
// types for the SW360 dashboard exporter. The exporter runs unattended on a
// schedule, so log output is the primary operational surface: error-level
// messages are routed to stderr while everything else goes to stdout, which
// lets cron wrappers and container log collectors treat the two streams
// differently.
//
// The logging system is built on logrus for structured logging. Every retry
// attempt, give-up, dropped row and skipped stage is logged with fields so
// that a silent stall and a silent data loss can be told apart after the
// fact from logs alone.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stderr or stdout based on
// their level. It examines the rendered output for the logrus error level
// marker, so it works with both the text and JSON formatters.
type OutputSplitter struct{}

// Write implements io.Writer. Lines containing "level=error" go to stderr,
// everything else to stdout.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance used across the exporter. It is
// configured with the OutputSplitter and a full-timestamp text formatter;
// the CLI reconfigures level and format from the loaded configuration.
var Logger = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&OutputSplitter{})
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger
}
