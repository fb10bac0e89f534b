package sexp

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SyntaxError reports an unreadable s-expression, with the byte offset of
// the offending input.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("sexp: %s at offset %d", e.Msg, e.Offset)
}

// Read parses a single s-expression from input. Trailing whitespace
// (including the frame's terminating newline) is permitted; any other
// trailing content is an error.
func Read(input []byte) (Value, error) {
	r := &reader{input: input}
	v, err := r.readValue()
	if err != nil {
		return nil, err
	}
	r.skipSpace()
	if r.pos != len(r.input) {
		return nil, r.errorf("trailing data after expression")
	}
	return v, nil
}

// ReadString parses a single s-expression from a string.
func ReadString(input string) (Value, error) {
	return Read([]byte(input))
}

type reader struct {
	input []byte
	pos   int
}

func (r *reader) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: r.pos, Msg: fmt.Sprintf(format, args...)}
}

func (r *reader) skipSpace() {
	for r.pos < len(r.input) {
		switch r.input[r.pos] {
		case ' ', '\t', '\n', '\r':
			r.pos++
		default:
			return
		}
	}
}

func (r *reader) readValue() (Value, error) {
	r.skipSpace()
	if r.pos >= len(r.input) {
		return nil, r.errorf("unexpected end of input")
	}

	switch c := r.input[r.pos]; c {
	case '(':
		return r.readList()
	case ')':
		return nil, r.errorf("unexpected )")
	case '"':
		return r.readString()
	default:
		return r.readAtom()
	}
}

func (r *reader) readList() (Value, error) {
	r.pos++ // consume (
	var items List
	for {
		r.skipSpace()
		if r.pos >= len(r.input) {
			return nil, r.errorf("unterminated list")
		}
		if r.input[r.pos] == ')' {
			r.pos++
			if items == nil {
				return Nil, nil
			}
			return items, nil
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
}

func (r *reader) readString() (Value, error) {
	r.pos++ // consume opening quote
	var sb strings.Builder
	for {
		if r.pos >= len(r.input) {
			return nil, r.errorf("unterminated string")
		}
		c := r.input[r.pos]
		switch c {
		case '"':
			r.pos++
			return String(sb.String()), nil
		case '\\':
			r.pos++
			if r.pos >= len(r.input) {
				return nil, r.errorf("unterminated escape")
			}
			switch e := r.input[r.pos]; e {
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				return nil, r.errorf("unknown escape \\%c", e)
			}
			r.pos++
		default:
			ru, size := utf8.DecodeRune(r.input[r.pos:])
			if ru == utf8.RuneError && size == 1 {
				return nil, r.errorf("invalid UTF-8 in string")
			}
			sb.Write(r.input[r.pos : r.pos+size])
			r.pos += size
		}
	}
}

// atomEnd reports whether c terminates an atom token.
func atomEnd(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '(', ')', '"':
		return true
	}
	return false
}

func (r *reader) readAtom() (Value, error) {
	start := r.pos
	for r.pos < len(r.input) && !atomEnd(r.input[r.pos]) {
		r.pos++
	}
	tok := string(r.input[start:r.pos])
	if tok == "" {
		return nil, r.errorf("empty atom")
	}

	if tok == "nil" {
		return Nil, nil
	}

	// Numbers first; anything that fails to parse as a number is a symbol.
	if looksNumeric(tok) {
		if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
			return Int(i), nil
		}
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return Float(f), nil
		}
	}

	if !utf8.ValidString(tok) {
		return nil, &SyntaxError{Offset: start, Msg: "invalid UTF-8 in symbol"}
	}
	return Symbol(tok), nil
}

func looksNumeric(tok string) bool {
	c := tok[0]
	if c >= '0' && c <= '9' {
		return true
	}
	if (c == '-' || c == '+' || c == '.') && len(tok) > 1 {
		d := tok[1]
		return d >= '0' && d <= '9' || d == '.'
	}
	return false
}
