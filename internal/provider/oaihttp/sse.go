package oaihttp

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// sseDecoder reads server-sent events one at a time from an upstream body.
type sseDecoder struct {
	br *bufio.Reader
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{br: bufio.NewReader(r)}
}

// next returns the next event. io.EOF marks a clean end of the body.
func (d *sseDecoder) next() (event string, data string, err error) {
	var dataLines []string
	for {
		line, rerr := d.br.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return "", "", rerr
		}
		eof := errors.Is(rerr, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			// Blank line ends an event.
			if len(dataLines) > 0 {
				return event, strings.Join(dataLines, "\n"), nil
			}
			event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if eof {
			if len(dataLines) > 0 {
				return event, strings.Join(dataLines, "\n"), nil
			}
			return "", "", io.EOF
		}
	}
}
