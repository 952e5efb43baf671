package logging

import (
	"bufio"
	"errors"
	"io"
)

// ReadLines calls fn for every newline-terminated line of r, without the
// terminator, until EOF or until fn returns false. A line longer than limit
// is cut at limit bytes and the rest of it is read and discarded, so the
// writer never blocks on a long line. A final unterminated line is
// delivered too. EOF is not an error.
func ReadLines(r io.Reader, limit int, fn func(line string, truncated bool) bool) error {
	br := bufio.NewReaderSize(r, 4096)
	var (
		buf       []byte
		truncated bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		end := err == nil
		if end {
			chunk = chunk[:len(chunk)-1]
		}

		n := max(min(len(chunk), limit-len(buf)), 0)
		buf = append(buf, chunk[:n]...)
		if n < len(chunk) {
			truncated = true
		}

		switch {
		case end:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			if len(buf) > 0 || truncated {
				fn(string(buf), truncated)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if !fn(string(buf), truncated) {
			return nil
		}
		buf = buf[:0]
		truncated = false
	}
}
