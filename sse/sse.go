// Package sse reads Server-Sent Events from an upstream response body.
//
// Only the client side is implemented: the reader parses "data", "event" and
// "id" fields and hands back one Event per blank-line delimited block.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single parsed SSE event.
type Event struct {
	// Type is the value of the "event:" field. Empty means "message".
	Type string
	// Data is every "data:" line of the event joined with "\n".
	Data string
	// ID is the value of the "id:" field, if any.
	ID string
}

type Reader struct {
	scanner *bufio.Scanner
	current Event
	hasData bool
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	// Some servers put a whole completion in one event, so allow long lines.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next blocks until a complete event is available. It returns nil, nil once
// the source is exhausted.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if !r.hasData {
				// Keep-alive or leading blank line.
				continue
			}
			return r.flush(), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		r.parseLine(line)
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	// The stream may end without a trailing blank line.
	if r.hasData {
		return r.flush(), nil
	}
	return nil, nil
}

func (r *Reader) parseLine(line string) {
	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "data":
		if r.hasData && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.hasData = true
	case "event":
		r.current.Type = value
		r.hasData = true
	case "id":
		r.current.ID = value
		r.hasData = true
	}
}

func (r *Reader) flush() *Event {
	ev := r.current
	r.current = Event{}
	r.hasData = false
	return &ev
}
