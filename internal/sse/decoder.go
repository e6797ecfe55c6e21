// Package sse decodes server-sent event streams from OpenAI-compatible
// completion endpoints into token events.
package sse

import (
	"bytes"
	"io"
	"strings"
	"time"
)

const (
	defaultChunkSize = 4096
	// DefaultMaxLineLength bounds a single pending line
	DefaultMaxLineLength = 1 << 20
)

type state int

const (
	stateStreaming state = iota
	stateDone
	stateFailed
)

// Decoder incrementally turns a byte stream into Events. Partial lines are
// buffered across reads, so chunk boundaries may fall anywhere. A Decoder is
// single use.
type Decoder struct {
	r       io.Reader
	now     func() time.Time
	chunk   []byte
	maxLine int

	buf       []byte
	data      []string
	eventType string
	fragment  bool
	sawData   bool
	stray     string

	state   state
	err     error
	eof     bool
	flushed bool
}

// Option configures a Decoder
type Option func(*Decoder)

// WithClock sets the clock used to stamp events
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		d.now = now
	}
}

// WithChunkSize sets the read size
func WithChunkSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.chunk = make([]byte, n)
		}
	}
}

// WithMaxLineLength sets the longest line accepted before the stream is
// rejected as malformed
func WithMaxLineLength(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:       r,
		now:     time.Now,
		chunk:   make([]byte, defaultChunkSize),
		maxLine: DefaultMaxLineLength,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next event. After the terminal marker it returns io.EOF.
// If the stream ends without the marker it returns ErrUnterminated, unless no
// data field was ever seen: such a body is not an event stream and yields a
// *DecodeError. Payload errors are *DecodeError or *ServerError; read errors
// are returned as is.
func (d *Decoder) Next() (Event, error) {
	for {
		switch d.state {
		case stateDone:
			return Event{}, io.EOF
		case stateFailed:
			return Event{}, d.err
		}

		if i := bytes.IndexByte(d.buf, '\n'); i >= 0 {
			line := trimCR(d.buf[:i])
			d.buf = d.buf[i+1:]

			ev, ok, err := d.processLine(line)
			if err != nil {
				return Event{}, d.fail(err)
			}
			if ok {
				if ev.Done {
					d.state = stateDone
				}
				return ev, nil
			}
			continue
		}

		if d.eof {
			return d.finish()
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			if len(d.buf) > d.maxLine && bytes.IndexByte(d.buf, '\n') < 0 {
				return Event{}, d.fail(&DecodeError{Payload: string(d.buf[:min(len(d.buf), strayLimit)]), Err: ErrLineTooLong})
			}
		}
		if err == io.EOF {
			d.eof = true
		} else if err != nil {
			return Event{}, d.fail(err)
		}
	}
}

// processLine advances the event assembly by one line
func (d *Decoder) processLine(line []byte) (Event, bool, error) {
	if len(line) == 0 {
		return d.dispatch()
	}
	if line[0] == ':' {
		return Event{}, false, nil
	}

	field, value := string(line), ""
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field = string(line[:i])
		value = strings.TrimPrefix(string(line[i+1:]), " ")
	}

	switch field {
	case "data":
		d.sawData = true
		d.data = append(d.data, value)
	case "event":
		d.eventType = value
	case "id", "retry":
		// no effect on token decoding
	default:
		if d.stray == "" {
			d.stray = string(line[:min(len(line), strayLimit)])
		}
	}
	return Event{}, false, nil
}

// dispatch emits the event assembled from the buffered data lines
func (d *Decoder) dispatch() (Event, bool, error) {
	if len(d.data) == 0 {
		d.eventType = ""
		return Event{}, false, nil
	}

	payload := strings.Join(d.data, "\n")
	eventType := d.eventType
	d.data = d.data[:0]
	d.eventType = ""

	if strings.TrimSpace(payload) == DoneMarker {
		return Event{Done: true, Received: d.now()}, true, nil
	}

	if eventType == "error" {
		return Event{}, false, &ServerError{Message: payload}
	}
	ev, err := ParsePayload([]byte(payload))
	if err != nil {
		return Event{}, false, err
	}
	if ev.empty() {
		return Event{}, false, nil
	}
	ev.Received = d.now()
	return ev, true, nil
}

// finish flushes whatever is buffered once the reader is exhausted
func (d *Decoder) finish() (Event, error) {
	if d.flushed {
		return Event{}, d.fail(ErrUnterminated)
	}
	d.flushed = true

	if len(d.buf) > 0 {
		line := trimCR(d.buf)
		d.buf = nil
		if len(line) > 0 {
			d.fragment = true
			if _, _, err := d.processLine(line); err != nil {
				return Event{}, d.fail(err)
			}
		}
	}

	ev, ok, err := d.dispatch()
	if err != nil {
		// A truncated trailing fragment is not a complete event.
		if _, isDecode := err.(*DecodeError); isDecode && d.fragment {
			return Event{}, d.fail(ErrUnterminated)
		}
		return Event{}, d.fail(err)
	}
	if !ok {
		if !d.sawData {
			return Event{}, d.fail(&DecodeError{Payload: d.stray, Err: ErrNotEventStream})
		}
		return Event{}, d.fail(ErrUnterminated)
	}
	if ev.Done {
		d.state = stateDone
	}
	return ev, nil
}

func (d *Decoder) fail(err error) error {
	d.state = stateFailed
	d.err = err
	return err
}

func trimCR(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte("\r"))
}
