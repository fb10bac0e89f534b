package epc

import (
	"fmt"

	"github.com/marmos91/sexpc/pkg/sexp"
)

// Wire framing: a 6-character lowercase hexadecimal byte length followed
// by that many bytes of UTF-8 s-expression text ending in a newline. The
// newline is included in the declared length.
const (
	headerLen = 6

	// maxFrameSize is the largest payload a 6-hex-digit header can
	// declare.
	maxFrameSize = 1<<24 - 1
)

// encodeFrame renders v as a complete wire frame.
func encodeFrame(v sexp.Value) ([]byte, error) {
	payload := sexp.Append(nil, v)
	payload = append(payload, '\n')
	if len(payload) > maxFrameSize {
		return nil, fmt.Errorf("epc: message too large: %d bytes", len(payload))
	}

	frame := make([]byte, 0, headerLen+len(payload))
	frame = appendHexHeader(frame, len(payload))
	return append(frame, payload...), nil
}

func appendHexHeader(dst []byte, n int) []byte {
	const digits = "0123456789abcdef"
	for shift := (headerLen - 1) * 4; shift >= 0; shift -= 4 {
		dst = append(dst, digits[(n>>shift)&0xf])
	}
	return dst
}

// decoder accumulates received bytes and yields complete frames. Partial
// frames stay buffered until the next feed.
type decoder struct {
	buf []byte
}

// feed appends newly received bytes.
func (d *decoder) feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// next consumes and parses one frame.
//
// Errors fall into three classes:
//   - errIncompleteFrame: not enough buffered bytes; feed more and retry.
//   - *FrameError: the frame's declared extent was consumed but its
//     payload would not parse; safe to keep reading subsequent frames.
//   - anything else: the header itself is unusable and the buffer cannot
//     be advanced safely; the connection must be torn down.
func (d *decoder) next() (sexp.Value, error) {
	if len(d.buf) < headerLen {
		return nil, errIncompleteFrame
	}

	length, err := parseHexHeader(d.buf[:headerLen])
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, fmt.Errorf("epc: zero-length frame header")
	}

	if len(d.buf) < headerLen+length {
		return nil, errIncompleteFrame
	}

	payload := d.buf[headerLen : headerLen+length]
	v, perr := sexp.Read(payload)

	// Only a fully declared frame advances the buffer, never a guess.
	d.buf = d.buf[headerLen+length:]
	if len(d.buf) == 0 {
		d.buf = nil
	}

	if perr != nil {
		return nil, &FrameError{Length: length, Err: perr}
	}
	return v, nil
}

func parseHexHeader(h []byte) (int, error) {
	n := 0
	for _, c := range h {
		var digit int
		switch {
		case c >= '0' && c <= '9':
			digit = int(c - '0')
		case c >= 'a' && c <= 'f':
			digit = int(c-'a') + 10
		default:
			return 0, fmt.Errorf("epc: malformed length header %q", h)
		}
		n = n<<4 | digit
	}
	return n, nil
}
