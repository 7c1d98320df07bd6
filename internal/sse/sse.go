// Package sse decodes Server-Sent-Event streams: `event:`/`data:` fields
// separated by blank lines, with a literal [DONE] sentinel marking
// end-of-stream for OpenAI-style backends.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const doneSentinel = "[DONE]"

// Event is one decoded SSE event.
type Event struct {
	Name string
	Data []byte
}

// Scanner reads events from a stream one at a time.
type Scanner struct {
	s  *bufio.Scanner
	ev Event
}

// NewScanner wraps r. The buffer allows events up to 1 MiB.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Scanner{s: s}
}

// Next advances to the next event carrying data, skipping the [DONE]
// sentinel. It returns false at end of input or on a read error.
func (sc *Scanner) Next() bool {
	var name string
	var data [][]byte
	for sc.s.Scan() {
		line := sc.s.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				sc.ev = Event{Name: name, Data: bytes.Join(data, []byte("\n"))}
				return true
			}
			name = ""
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			d := strings.TrimSpace(line[len("data:"):])
			if d == doneSentinel {
				continue
			}
			data = append(data, []byte(d))
		case strings.HasPrefix(line, ":"):
			// comment line, ignore
		}
	}
	// Dispatch a trailing event that was not followed by a blank line.
	if len(data) > 0 {
		sc.ev = Event{Name: name, Data: bytes.Join(data, []byte("\n"))}
		return true
	}
	return false
}

// Event returns the event read by the last successful Next.
func (sc *Scanner) Event() Event { return sc.ev }

// Err returns the first non-EOF error encountered while reading.
func (sc *Scanner) Err() error { return sc.s.Err() }
