// Package console is the diagnostic output facility of the boot stack.
// It is a thin layer over logrus with one addition: Fatalf is the escalation
// primitive that halts the boot sequence. A failed boot device is not
// recoverable by software, so there is no retry tier above it.
package console

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Console is the logging sink handed to every component of the storage
// stack. The zero value is not usable, construct it with New.
type Console struct {
	*logrus.Logger
}

// Option configures a Console.
type Option func(*Console)

// WithOutput redirects all output, useful for capturing diagnostics.
func WithOutput(w io.Writer) Option {
	return func(c *Console) {
		c.SetOutput(w)
	}
}

// WithLevel sets the minimum level that gets written.
func WithLevel(level logrus.Level) Option {
	return func(c *Console) {
		c.SetLevel(level)
	}
}

// WithExitFunc replaces the function invoked after a fatal message has been
// written. Tests use this to turn the boot halt into a recoverable panic.
func WithExitFunc(exit func(int)) Option {
	return func(c *Console) {
		c.ExitFunc = exit
	}
}

// New returns a Console writing to stderr in a plain, timestamp-free format.
// A fatal message halts the process unless WithExitFunc overrides that.
func New(opts ...Option) *Console {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	c := &Console{Logger: log}
	for _, opt := range opts {
		opt(c)
	}

	return c
}
