package measurementlog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lineFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(Z|[+-]\d{2}:\d{2}), \d+, \d+$`)

// flakyWriter fails every write while broken is set.
type flakyWriter struct {
	buf    bytes.Buffer
	broken bool
	closed bool
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.broken {
		return 0, errors.New("no space left on device")
	}
	return w.buf.Write(p)
}

func (w *flakyWriter) Close() error {
	w.closed = true
	return nil
}

func sample(i int) types.Measurement {
	return types.Measurement{
		Oxygen:     90 + i,
		HeartRate:  60 + i,
		CapturedAt: time.Date(2015, 7, 21, 10, 0, i, 0, time.FixedZone("", -5*60*60)),
	}
}

func TestOpenWritesHeaderThenLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.o2d")
	logger, _ := test.NewNullLogger()

	l, err := Open(path, logger)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Date, O2, HeartRate\n", string(data))

	for i := 0; i < 5; i++ {
		l.Append(sample(i))
	}
	require.NoError(t, l.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Date, O2, HeartRate", lines[0])
	for i, line := range lines[1:] {
		assert.Regexp(t, lineFormat, line)
		assert.Equal(t, strings.TrimSuffix(sample(i).CSVLine(), "\n"), line)
	}
	assert.Equal(t, "2015-07-21T10:00:00-05:00, 90, 60", lines[1])
	assert.Equal(t, uint64(5), l.Lines())
	assert.Equal(t, path, l.Name())
}

func TestOpenRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "existing.o2d")
	require.NoError(t, os.WriteFile(path, []byte("Date, O2, HeartRate\n"), 0o644))

	_, err := Open(path, nil)

	assert.ErrorIs(t, err, ErrLogOpen)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "x.o2d"), nil)

	assert.ErrorIs(t, err, ErrLogOpen)
}

func TestAppendFailureIsReportedNotRaised(t *testing.T) {
	logger, hook := test.NewNullLogger()
	w := &flakyWriter{}
	var hooked []error
	l, err := New(w, logger, WithFailureHook(func(err error) { hooked = append(hooked, err) }))
	require.NoError(t, err)

	l.Append(sample(0))
	w.broken = true
	l.Append(sample(1))
	l.Append(sample(2))
	w.broken = false
	l.Append(sample(3))

	assert.Equal(t, uint64(2), l.Failures())
	assert.Equal(t, uint64(2), l.Lines())
	require.Len(t, hooked, 2)
	assert.ErrorIs(t, hooked[0], ErrLogWrite)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Failed to append measurement", entries[0].Message)

	assert.Equal(t, types.CsvHeader+sample(0).CSVLine()+sample(3).CSVLine(), w.buf.String())
}

func TestHeaderFailure(t *testing.T) {
	w := &flakyWriter{broken: true}

	_, err := New(w, nil)

	assert.ErrorIs(t, err, ErrLogOpen)
}

func TestAppendAfterCloseIsReported(t *testing.T) {
	logger, hook := test.NewNullLogger()
	w := &flakyWriter{}
	l, err := New(w, logger)
	require.NoError(t, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	l.Append(sample(0))

	assert.True(t, w.closed)
	assert.Equal(t, uint64(1), l.Failures())
	require.NotNil(t, hook.LastEntry())
	assert.ErrorIs(t, hook.LastEntry().Data[logrus.ErrorKey].(error), os.ErrClosed)
	assert.Equal(t, types.CsvHeader, w.buf.String())
}
