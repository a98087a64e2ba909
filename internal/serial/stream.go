package serial

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/sweeney/filament-sensor/internal/fsensor"
)

// maxLine bounds a sample line. Longer input is dropped up to the next
// newline and counted as bad.
const maxLine = 256

// Sink receives parsed samples. *fsensor.Router implements it.
type Sink interface {
	fsensor.SampleSink
	ProcessMMUSample(raw int32)
}

// Stream parses sample lines from a reader into a Sink.
type Stream struct {
	sink Sink
	// Follow keeps reading after io.EOF, as returned by a port read
	// timeout, until the context is cancelled.
	Follow bool

	lines atomic.Uint64
	bad   atomic.Uint64
}

// NewStream creates a stream delivering to sink.
func NewStream(sink Sink) *Stream {
	return &Stream{sink: sink}
}

// Stats returns the number of parsed and rejected lines.
func (s *Stream) Stats() (lines, bad uint64) {
	return s.lines.Load(), s.bad.Load()
}

// Run reads until r ends, an error occurs or ctx is cancelled.
func (s *Stream) Run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	var partial []byte
	discarding := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := br.ReadSlice('\n')
		if !discarding {
			partial = append(partial, chunk...)
			if len(partial) > maxLine {
				s.bad.Add(1)
				partial = partial[:0]
				discarding = err != nil
			}
		} else if err == nil {
			discarding = false
		}

		switch {
		case err == nil:
			if len(partial) > 0 {
				s.handle(string(partial))
				partial = partial[:0]
			}
		case errors.Is(err, bufio.ErrBufferFull):
			// keep accumulating
		case errors.Is(err, io.EOF) || errors.Is(err, io.ErrNoProgress):
			if !s.Follow {
				if len(partial) > 0 {
					s.handle(string(partial))
				}
				return nil
			}
		default:
			return err
		}
	}
}

func (s *Stream) handle(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	sample, err := ParseLine(line)
	if err != nil {
		s.bad.Add(1)
		return
	}
	s.lines.Add(1)
	switch sample.Channel {
	case ChannelExtruder:
		s.sink.ProcessExtruderSample(sample.Value, sample.Tool)
	case ChannelSide:
		s.sink.ProcessSideSample(sample.Value, sample.Tool)
	case ChannelMMU:
		s.sink.ProcessMMUSample(sample.Value)
	}
}
