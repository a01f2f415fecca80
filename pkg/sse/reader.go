package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Reader parses SSE events from a source while writing every raw byte
// through to a destination writer. The destination typically backs an
// io.Pipe connected to the downstream HTTP response, so the browser
// receives the upstream stream verbatim while the relay inspects the
// parsed events to accumulate the assistant turn.
type Reader struct {
	scanner *bufio.Scanner
	dest    io.Writer

	current *Event
	pending bool
}

// NewReader returns a Reader that parses events from src and tees all
// raw bytes, original line terminators included, to dest.
func NewReader(src io.Reader, dest io.Writer) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesKeepEnds)

	return &Reader{
		scanner: scanner,
		dest:    dest,
		current: &Event{},
	}
}

// scanLinesKeepEnds splits on "\n" like bufio.ScanLines but keeps the
// terminator (and any preceding "\r") in the token, so the tee side
// reproduces CRLF-framed upstreams byte for byte.
func scanLinesKeepEnds(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Next blocks until a complete event is available and returns it.
// It returns nil, nil once the source is exhausted. A stream that ends
// without a trailing blank line still yields its in-progress event.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		raw := r.scanner.Bytes()

		if _, err := r.dest.Write(raw); err != nil {
			return nil, err
		}

		line := strings.TrimSuffix(string(raw), "\n")
		line = strings.TrimSuffix(line, "\r")

		// Blank line terminates the current event.
		if line == "" {
			if r.pending {
				ev := r.current
				r.reset()
				return ev, nil
			}
			// Keep-alive newline or leading blank line.
			continue
		}

		// Comment line.
		if strings.HasPrefix(line, ":") {
			continue
		}

		r.parseLine(line)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	if r.pending {
		ev := r.current
		r.reset()
		return ev, nil
	}

	return nil, nil
}

// parseLine accumulates one "field:value" line into the current event.
// A single leading space after the colon is stripped.
func (r *Reader) parseLine(line string) {
	// A line with no colon is a bare field name with an empty value.
	field, value, ok := strings.Cut(line, ":")
	if ok {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "data":
		if r.pending && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.pending = true
	case "event":
		r.current.Type = value
		r.pending = true
	case "id":
		r.current.ID = value
		r.pending = true
	default:
		// "retry" and unknown fields are ignored.
	}
}

func (r *Reader) reset() {
	r.current = &Event{}
	r.pending = false
}
