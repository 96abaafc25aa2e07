package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxLineSize bounds a single line of the stream.
const DefaultMaxLineSize = 1024 * 1024

// Decoder reads Events from an event stream. It is not safe for concurrent
// use.
type Decoder struct {
	scanner *bufio.Scanner
	lastID  string
	started bool
	// skipLF is set after a line ended in a lone '\r' at the end of the
	// buffered input; a '\n' that follows it belongs to the same break.
	skipLF bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*decoderConfig)

type decoderConfig struct {
	maxLine int
}

// WithMaxLineSize overrides DefaultMaxLineSize.
func WithMaxLineSize(n int) DecoderOption {
	return func(c *decoderConfig) { c.maxLine = n }
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	cfg := decoderConfig{maxLine: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := bufio.NewScanner(r)
	initial := 4 * 1024
	if cfg.maxLine < initial {
		initial = cfg.maxLine
	}
	s.Buffer(make([]byte, 0, initial), cfg.maxLine)
	d := &Decoder{scanner: s}
	s.Split(d.scanLines)
	return d
}

// Next blocks until a complete frame has been read and returns it. Frames
// without data lines are consumed silently. At the end of the stream Next
// returns io.EOF; a trailing frame that was never terminated by a blank
// line is discarded.
func (d *Decoder) Next() (Event, error) {
	var (
		data    strings.Builder
		hasData bool
		evType  string
		retry   time.Duration
	)

	for d.scanner.Scan() {
		line := d.scanner.Text()
		if !d.started {
			d.started = true
			line = strings.TrimPrefix(line, "\ufeff")
		}

		if line == "" {
			if !hasData {
				evType = ""
				retry = 0
				continue
			}
			if evType == "" {
				evType = DefaultEventType
			}
			return Event{ID: d.lastID, Type: evType, Data: data.String(), Retry: retry}, nil
		}

		if line[0] == ':' {
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			evType = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				d.lastID = value
			}
		case "retry":
			if ms, ok := parseRetry(value); ok {
				retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := d.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Event{}, ErrLineTooLong
		}
		return Event{}, err
	}
	return Event{}, io.EOF
}

func parseRetry(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// scanLines splits on "\r\n", "\n" or a lone "\r". A '\r' ends the line
// immediately so a stream that goes quiet after one is not held back.
func (d *Decoder) scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if d.skipLF && len(data) > 0 {
		d.skipLF = false
		if data[0] == '\n' {
			return 1, nil, nil
		}
	}
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		d.skipLF = !atEOF
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
