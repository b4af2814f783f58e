package capture

import (
	"bytes"
	"strings"
)

// LineState holds the unterminated tail of a channel's output.
type LineState struct {
	pending []byte
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (s LineState) Pending() int {
	return len(s.pending)
}

// Reassemble appends chunk to the pending fragment and returns every
// complete, non-blank line it now contains, trimmed of surrounding
// whitespace. The unterminated remainder is carried in the returned state.
//
// The returned state reuses the pending buffer of state, so state must not
// be passed to Reassemble again. chunk is never retained.
func Reassemble(state LineState, chunk []byte) (LineState, []string) {
	buf := state.pending
	scan := len(buf)
	buf = append(buf, chunk...)

	var (
		lines []string
		from  int
	)
	for {
		i := bytes.IndexByte(buf[scan:], '\n')
		if i < 0 {
			break
		}
		end := scan + i
		if line := strings.TrimSpace(string(buf[from:end])); line != "" {
			lines = append(lines, line)
		}
		from = end + 1
		scan = from
	}

	if from == len(buf) {
		return LineState{}, lines
	}
	if from > 0 {
		buf = buf[:copy(buf, buf[from:])]
	}
	return LineState{pending: buf}, lines
}
