package live

import (
	"bufio"
	"io"
	"strings"
)

// event is one server-sent event.
type event struct {
	Type string
	Data string
}

// eventScanner splits a text/event-stream body into events. Comment lines, id and retry
// fields are skipped; multiple data lines are joined with newlines.
type eventScanner struct {
	reader *bufio.Reader
	err    error
}

func newEventScanner(r io.Reader) *eventScanner {
	return &eventScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event, or an error once the stream ends. A clean end of stream is
// io.EOF.
func (s *eventScanner) Next() (event, error) {
	if s.err != nil {
		return event{}, s.err
	}
	var (
		ev      event
		data    []string
		hasData bool
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && hasData {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			ev = event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			ev.Type = value
		}
	}
}
