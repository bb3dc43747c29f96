package stream

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/vnykmshr/webstreams/pkg/metrics"
)

// Config holds the ambient settings shared by every stream constructor.
type Config struct {
	// Name identifies the stream in logs and metric labels.
	Name string

	// Logger receives lifecycle events at Debug level and unobserved
	// pipe failures at Warn level. If nil, output is discarded.
	Logger logrus.FieldLogger

	// Metrics records stream activity. A nil registry records nothing.
	Metrics *metrics.Registry
}

// DefaultConfig returns a configuration with a silent logger and no metrics.
func DefaultConfig() Config {
	return Config{
		Logger: discardLogger(),
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (c Config) entry(kind string) *logrus.Entry {
	logger := c.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return logger.WithFields(logrus.Fields{
		"stream": c.Name,
		"kind":   kind,
	})
}

// derive returns a config for a stream created on behalf of this one, such
// as a tee branch.
func (c Config) derive(suffix string) Config {
	c.Name += suffix
	return c
}
