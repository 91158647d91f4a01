package protocol

import (
	"bufio"
	"errors"
	"io"
)

// Reader reassembles newline-terminated lines from a byte stream, however
// the stream happens to be fragmented.
type Reader struct {
	br  *bufio.Reader
	max int
}

// NewReader returns a Reader that accepts lines of at most maxLine bytes,
// newline included. A non-positive maxLine selects MaxLineLength.
func NewReader(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = MaxLineLength
	}
	return &Reader{br: bufio.NewReaderSize(r, maxLine), max: maxLine}
}

// ReadLine returns the next line without its line terminator.
//
// A line longer than the limit is cut to max-1 bytes and the rest of it,
// up to the newline, is discarded; the cut line is returned together with
// ErrLineTooLong. A final unterminated line is returned as is and io.EOF is
// reported by the following call.
func (r *Reader) ReadLine() (string, error) {
	data, err := r.br.ReadSlice('\n')
	switch {
	case err == nil && len(data) > r.max:
		// bufio never buffers fewer than 16 bytes, so short limits are
		// enforced here.
		return trimEOL(string(data[:r.max-1])), ErrLineTooLong
	case err == nil:
		return trimEOL(string(data)), nil
	case errors.Is(err, bufio.ErrBufferFull):
		line := string(data[:r.max-1])
		if derr := r.discardLine(); derr != nil && !errors.Is(derr, io.EOF) {
			return "", derr
		}
		return trimEOL(line), ErrLineTooLong
	case errors.Is(err, io.EOF) && len(data) > 0:
		return trimEOL(string(data)), nil
	default:
		return "", err
	}
}

func (r *Reader) discardLine() error {
	for {
		_, err := r.br.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}
