// Package checkpoint decorates errors with the file and line of the caller,
// building up something similar to a stacktrace as an error travels up the
// stack. Every error attached to a checkpoint stays visible to errors.Is and
// errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// From wraps err in a new checkpoint carrying the caller location.
// It returns nil for a nil err.
func From(err error) error {
	// io.EOF and io.ErrUnexpectedEOF must keep their identity,
	// see https://github.com/golang/go/issues/39155
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}
	if err == nil {
		return nil
	}

	_, file, line, ok := runtime.Caller(1)

	return &checkpoint{
		err:      err,
		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

// Wrap adds a checkpoint around prev and attaches err as an additional
// description of it. Returns nil if prev is nil.
//
// The typical use is to mark a low-level error with a predefined sentinel:
//  var ErrMountFailed = errors.New("could not mount the volume")
//  ...
//  return checkpoint.Wrap(err, ErrMountFailed)
// Both errors.Is(result, ErrMountFailed) and errors.Is(result, err) hold.
func Wrap(prev, err error) error {
	if prev == io.EOF {
		return io.EOF
	}
	if prev == nil {
		return nil
	}

	_, file, line, ok := runtime.Caller(1)

	return &checkpoint{
		err:      err,
		prev:     prev,
		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func (c *checkpoint) Error() string {
	var prevErrString string
	if c.prev != nil {
		prevErrString = c.prev.Error()
		if _, ok := c.prev.(*checkpoint); !ok {
			prevErrString = "File: unknown\n\t" + strings.ReplaceAll(prevErrString, "\n", "\n\t")
		}
		prevErrString = "\n" + prevErrString
	}

	if c.callerOk {
		return fmt.Sprintf("File: %s:%d\n\t%v%v", c.file, c.line, c.err, prevErrString)
	}
	return fmt.Sprintf("File: unknown\n\t%v%v", c.err, prevErrString)
}

func (c *checkpoint) Unwrap() error {
	return c.prev
}

func (c *checkpoint) Is(target error) bool {
	return errors.Is(c.err, target)
}

func (c *checkpoint) As(target interface{}) bool {
	return errors.As(c.err, target)
}
