package chatapi

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	ID   string
	Name string
	Data []byte
}

// Stream yields events until the server closes the channel, at which point
// Next returns io.EOF.
type Stream interface {
	Next() (Event, error)
	Close() error
}

type eventStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{body: body, reader: bufio.NewReaderSize(body, 64<<10)}
}

// Next implements Stream.
func (s *eventStream) Next() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}

	var (
		ev      Event
		data    bytes.Buffer
		hasData bool
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				ev.Data = data.Bytes()
				if eof {
					s.done = true
				}
				return ev, nil
			}
			if eof {
				s.done = true
				return Event{}, io.EOF
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "":
			// comment line
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			ev.Name = value
		case "id":
			ev.ID = value
		}

		if eof {
			s.done = true
			if hasData {
				ev.Data = data.Bytes()
				return ev, nil
			}
			return Event{}, io.EOF
		}
	}
}

// Close implements Stream.
func (s *eventStream) Close() error {
	s.done = true
	return s.body.Close()
}
