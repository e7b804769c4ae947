package llm

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// errStreamDone signals the upstream's explicit end-of-stream marker.
var errStreamDone = errors.New("stream done")

var doneMarker = []byte("[DONE]")

// sseReader reassembles the upstream's line-oriented event protocol.
// bufio carries partial lines across reads, so an event split between
// network frames arrives intact.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	// Schema-constrained responses can pack a whole completion into a
	// single event line, so start with a generous buffer.
	return &sseReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the payload of the next data event. It returns
// errStreamDone at the upstream end marker and io.EOF when the
// connection closes without one. Blank lines, comment lines and
// non-data fields are skipped.
func (s *sseReader) next() ([]byte, error) {
	for {
		line, err := s.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Leftover bytes without a trailing newline still
				// deserve one best-effort parse attempt.
				if payload, ok := dataPayload(bytes.TrimSpace(line)); ok {
					if bytes.Equal(payload, doneMarker) {
						return nil, errStreamDone
					}
					if len(payload) > 0 {
						return payload, nil
					}
				}
				return nil, io.EOF
			}
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == ':' {
			continue
		}

		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		if bytes.Equal(payload, doneMarker) {
			return nil, errStreamDone
		}
		return payload, nil
	}
}

func dataPayload(line []byte) ([]byte, bool) {
	const prefix = "data:"
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(prefix):]), true
}
