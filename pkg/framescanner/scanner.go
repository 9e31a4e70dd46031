// Package framescanner extracts delimited packets from the raw serial stream.
// The oximeter wraps every packet in "Sp" ... "\r\n".
package framescanner

import "bytes"

// Packet delimiters and size guard.
// MaxFrameSize is far above any real packet, it only protects against a garbled stream.
var (
	Prefix = []byte("Sp")
	Suffix = []byte("\r\n")
)

const MaxFrameSize = 1024

type State int

const (
	SeekingPrefix State = iota
	Accumulating
)

func (s State) String() string {
	switch s {
	case SeekingPrefix:
		return "seeking_prefix"
	case Accumulating:
		return "accumulating"
	default:
		return "unknown"
	}
}

// Scanner is not safe for concurrent use, the controller owns it exclusively.
type Scanner struct {
	buf       []byte
	state     State
	maxFrame  int
	overflows uint64
	restarts  uint64
}

func New() *Scanner {
	return NewWithLimit(MaxFrameSize)
}

func NewWithLimit(maxFrame int) *Scanner {
	if maxFrame <= 0 {
		maxFrame = MaxFrameSize
	}
	return &Scanner{
		buf:      make([]byte, 0, 64),
		maxFrame: maxFrame,
	}
}

// Consume feeds one chunk from the transport and returns every frame completed by it.
// Frames exclude both markers. Unmatched trailing bytes stay buffered for the next call,
// so a chunk boundary is never treated as a frame boundary.
func (s *Scanner) Consume(chunk []byte) [][]byte {
	var frames [][]byte

	for _, b := range chunk {
		s.buf = append(s.buf, b)

		switch s.state {
		case SeekingPrefix:
			if bytes.HasSuffix(s.buf, Prefix) {
				s.buf = s.buf[:0]
				s.state = Accumulating
				continue
			}
			// Only a partial prefix can be worth keeping
			if keep := len(Prefix) - 1; len(s.buf) > keep {
				s.buf = append(s.buf[:0], s.buf[len(s.buf)-keep:]...)
			}

		case Accumulating:
			if bytes.HasSuffix(s.buf, Suffix) {
				frames = append(frames, s.copyFrame(len(s.buf)-len(Suffix)))
				s.buf = s.buf[:0]
				s.state = SeekingPrefix
				continue
			}
			// Newer packet started before the old one finished, keep the fresh one
			if bytes.HasSuffix(s.buf, Prefix) {
				s.restarts++
				s.buf = s.buf[:0]
				continue
			}
			// Still room for a suffix to arrive without exceeding the limit
			if len(s.buf) > s.maxFrame+len(Suffix)-1 {
				s.overflows++
				s.buf = s.buf[:0]
				s.state = SeekingPrefix
			}
		}
	}

	return frames
}

func (s *Scanner) State() State {
	return s.state
}

// Overflows is the number of frames dropped for exceeding the size limit.
func (s *Scanner) Overflows() uint64 {
	return s.overflows
}

// Restarts is the number of partial frames discarded because a new prefix arrived.
func (s *Scanner) Restarts() uint64 {
	return s.restarts
}

// Buffered returns how many bytes are held waiting for more input.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
	s.state = SeekingPrefix
}

func (s *Scanner) copyFrame(n int) []byte {
	out := make([]byte, n)
	copy(out, s.buf[:n])
	return out
}
