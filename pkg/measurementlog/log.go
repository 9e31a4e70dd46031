// Package measurementlog appends accepted measurements to a .o2d data file.
// The header is written exactly once, when the log is opened. Write failures are
// reported through the logger and never returned to the caller.
package measurementlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrLogOpen  = errors.New("could not open measurement log")
	ErrLogWrite = errors.New("could not write measurement log")
)

type Log struct {
	mu       sync.Mutex
	w        io.WriteCloser
	name     string
	logger   logrus.FieldLogger
	closed   bool
	lines    uint64
	failures uint64
	onFail   func(error)
}

type Option func(*Log)

// WithFailureHook is called after every reported write failure.
func WithFailureHook(fn func(error)) Option {
	return func(l *Log) {
		l.onFail = fn
	}
}

// Open creates the file at path and writes the header.
// An existing file is never reused so the header can't appear twice.
func Open(path string, logger logrus.FieldLogger, opts ...Option) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrLogOpen, path, err)
	}

	l, err := New(f, logger, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.name = path
	return l, nil
}

// New writes the header to w and returns a log appending to it.
func New(w io.WriteCloser, logger logrus.FieldLogger, opts ...Option) (*Log, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &Log{w: w, logger: logger}
	for _, opt := range opts {
		opt(l)
	}

	if _, err := io.WriteString(w, types.CsvHeader); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrLogOpen, err)
	}
	return l, nil
}

// Append writes one data line. A failure is logged and counted, then forgotten:
// the next Append tries again.
func (l *Log) Append(m types.Measurement) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		l.report(fmt.Errorf("%w: %w", ErrLogWrite, os.ErrClosed), m)
		return
	}

	if _, err := io.WriteString(l.w, m.CSVLine()); err != nil {
		l.report(fmt.Errorf("%w: %w", ErrLogWrite, err), m)
		return
	}
	l.lines++
}

func (l *Log) report(err error, m types.Measurement) {
	l.failures++
	l.logger.WithError(err).WithFields(logrus.Fields{
		"file":       l.name,
		"oxygen":     m.Oxygen,
		"heart_rate": m.HeartRate,
		"failures":   l.failures,
	}).Error("Failed to append measurement")
	if l.onFail != nil {
		l.onFail(err)
	}
}

// Close releases the underlying writer. Calling it again is a no-op.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.w.Close()
}

func (l *Log) Name() string {
	return l.name
}

// Lines is the number of data lines written, excluding the header.
func (l *Log) Lines() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

func (l *Log) Failures() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}
