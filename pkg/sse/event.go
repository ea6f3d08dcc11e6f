// Package sse reads text/event-stream responses and opens the chat stream
// endpoint of the shop assistant backend.
package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultEventName is the name of events that carry no `event:` field.
const DefaultEventName = "message"

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Name  string
	Data  string
	Retry time.Duration
}

// IsMessage reports whether the event is an unnamed data event.
func (e Event) IsMessage() bool {
	return e.Name == "" || e.Name == DefaultEventName
}

// Decoder splits an event stream into events. Fields accumulate until a
// blank line dispatches them; a trailing event that is not terminated by a
// blank line is discarded at EOF.
type Decoder struct {
	r      *bufio.Reader
	lastID string
	// set after a CR, so the LF of a CRLF pair is not read as an empty line
	skipLF bool
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event. It returns io.EOF when the stream ends.
func (d *Decoder) Next() (Event, error) {
	var (
		ev      Event
		data    strings.Builder
		hasData bool
		hasAny  bool
	)
	for {
		line, err := d.readLine()
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, errors.Wrap(err, "read event stream")
		}
		eof := err != nil

		if line == "" {
			if eof {
				return Event{}, io.EOF
			}
			if !hasAny {
				continue
			}
			if !hasData {
				// an event with no data is not dispatched, but its fields reset
				ev = Event{}
				hasAny = false
				continue
			}
			ev.Data = data.String()
			if ev.Name == "" {
				ev.Name = DefaultEventName
			}
			ev.ID = d.lastID
			return ev, nil
		}

		if strings.HasPrefix(line, ":") {
			if eof {
				return Event{}, io.EOF
			}
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field = line[:i]
			value = strings.TrimPrefix(line[i+1:], " ")
		}
		hasAny = true

		switch field {
		case "event":
			ev.Name = value
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
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
		}

		if eof {
			return Event{}, io.EOF
		}
	}
}

// readLine returns the next line without its terminator. Lines end in LF,
// CR or CRLF. A line cut off by the end of the stream is returned together
// with the read error.
func (d *Decoder) readLine() (string, error) {
	var b strings.Builder
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			return b.String(), err
		}
		if d.skipLF {
			d.skipLF = false
			if c == '\n' {
				continue
			}
		}
		switch c {
		case '\n':
			return b.String(), nil
		case '\r':
			d.skipLF = true
			return b.String(), nil
		}
		b.WriteByte(c)
	}
}
