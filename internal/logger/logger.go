package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	globalLogger *logrus.Logger
	once         sync.Once
)

// Initialize sets up the global logger from LOG_LEVEL and LOG_FORMAT.
// JSON output is the default; LOG_FORMAT=text switches to a colored
// human-readable format.
func Initialize() *logrus.Logger {
	once.Do(func() {
		l := logrus.New()

		level, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
		if err != nil {
			level = logrus.InfoLevel
		}
		l.SetLevel(level)

		if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
			l.SetFormatter(&logrus.TextFormatter{
				FullTimestamp: true,
				ForceColors:   true,
			})
		} else {
			l.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			})
		}

		l.SetOutput(os.Stdout)
		globalLogger = l
	})
	return globalLogger
}

// Get returns the global logger, initializing it if necessary.
func Get() *logrus.Logger {
	return Initialize()
}

// WithModule creates a new entry tagged with the module name.
func WithModule(moduleName string) *logrus.Entry {
	return Get().WithField("module", moduleName)
}
