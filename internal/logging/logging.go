// Package logging builds the per-component loggers shared by the pool,
// the relay and the CLI entrypoint.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// timestampFormat mirrors the original wrapper's
// "%Y-%m-%d %H:%M:%S" component log line.
const timestampFormat = "2006-01-02 15:04:05"

// formatter renders "<time> <LEVEL>   <component>: <message>" lines,
// matching the field order of the log line this project grew up with.
type formatter struct {
	component string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())
	line := fmt.Sprintf("%s %-8s %s: %s\n",
		entry.Time.Format(timestampFormat),
		level,
		f.component,
		entry.Message)
	return []byte(line), nil
}

// New returns a logger for the named component (e.g. "ConnPool",
// "Listener", "MAIN") at the given level, writing to out.
func New(component string, level logrus.Level, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(&formatter{component: component})
	return logger
}

// ParseLevel adapts logrus.ParseLevel to the verbosity names this CLI
// accepts (debug, info, warning, error, critical), matching the source
// wrapper's LogLevel enum (with "critical" as an alias of logrus's
// "fatal" since logrus has no exact "critical" level).
func ParseLevel(name string) (logrus.Level, error) {
	if name == "critical" {
		return logrus.FatalLevel, nil
	}
	return logrus.ParseLevel(name)
}
