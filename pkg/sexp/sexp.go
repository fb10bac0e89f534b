// Package sexp implements the s-expression dialect spoken on the wire:
// symbols, integers, floats, strings with backslash escapes, and proper
// lists. The empty list and the symbol nil are the same value.
//
// Values are immutable once built. Symbols compare by name, so two
// independently read symbols with the same spelling are equal.
package sexp

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is the interface implemented by all s-expression variants.
//
// The concrete types are Symbol, Int, Float, String, and List. A nil
// Value behaves like the empty list when printed.
type Value interface {
	// append writes the printed representation onto dst.
	append(dst []byte) []byte
}

// Symbol is an interned identifier. Equality is by name.
type Symbol string

// Int is a wire integer.
type Int int64

// Float is a wire float.
type Float float64

// String is a wire string. Contents are arbitrary UTF-8; non-ASCII
// characters are printed unescaped.
type String string

// List is a proper list. The empty list prints as nil.
type List []Value

// Nil is the canonical empty list.
var Nil = List(nil)

func (s Symbol) append(dst []byte) []byte {
	return append(dst, s...)
}

func (i Int) append(dst []byte) []byte {
	return strconv.AppendInt(dst, int64(i), 10)
}

func (f Float) append(dst []byte) []byte {
	out := strconv.AppendFloat(dst, float64(f), 'g', -1, 64)
	// A float must read back as a float: 1 would intern as an integer,
	// so print 1.0 the way the reference printer does.
	tail := out[len(dst):]
	if !containsAny(tail, ".eE") {
		out = append(out, '.', '0')
	}
	return out
}

func (s String) append(dst []byte) []byte {
	dst = append(dst, '"')
	for _, r := range string(s) {
		switch r {
		case '\\':
			dst = append(dst, '\\', '\\')
		case '"':
			dst = append(dst, '\\', '"')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			dst = append(dst, string(r)...)
		}
	}
	return append(dst, '"')
}

func (l List) append(dst []byte) []byte {
	if len(l) == 0 {
		return append(dst, "nil"...)
	}
	dst = append(dst, '(')
	for i, v := range l {
		if i > 0 {
			dst = append(dst, ' ')
		}
		dst = appendValue(dst, v)
	}
	return append(dst, ')')
}

func appendValue(dst []byte, v Value) []byte {
	if v == nil {
		return append(dst, "nil"...)
	}
	return v.append(dst)
}

func containsAny(b []byte, chars string) bool {
	for _, c := range b {
		if strings.IndexByte(chars, c) >= 0 {
			return true
		}
	}
	return false
}

// Print renders v as s-expression text. The output contains no print-level
// abbreviation and no escaping beyond the four string escapes, so it can
// be fed back to Read unchanged.
func Print(v Value) string {
	return string(appendValue(nil, v))
}

// Append renders v onto dst and returns the extended slice.
func Append(dst []byte, v Value) []byte {
	return appendValue(dst, v)
}

// Equal reports structural equality. Symbols compare by name, the empty
// list equals nil, and lists compare element-wise.
func Equal(a, b Value) bool {
	la, aIsList := asList(a)
	lb, bIsList := asList(b)
	if aIsList && bIsList {
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	if aIsList || bIsList {
		return false
	}
	return a == b
}

func asList(v Value) (List, bool) {
	if v == nil {
		return nil, true
	}
	l, ok := v.(List)
	return l, ok
}

// IsNil reports whether v is the empty list.
func IsNil(v Value) bool {
	l, ok := asList(v)
	return ok && len(l) == 0
}

// AsList returns v as a List. nil is the empty list; a non-list value is
// an error.
func AsList(v Value) (List, error) {
	if l, ok := asList(v); ok {
		return l, nil
	}
	return nil, fmt.Errorf("not a list: %s", Print(v))
}

// AsSymbol returns v as a Symbol.
func AsSymbol(v Value) (Symbol, error) {
	if s, ok := v.(Symbol); ok {
		return s, nil
	}
	return "", fmt.Errorf("not a symbol: %s", Print(v))
}

// AsInt returns v as an Int.
func AsInt(v Value) (Int, error) {
	if i, ok := v.(Int); ok {
		return i, nil
	}
	return 0, fmt.Errorf("not an integer: %s", Print(v))
}

// AsString returns v as a String.
func AsString(v Value) (String, error) {
	if s, ok := v.(String); ok {
		return s, nil
	}
	return "", fmt.Errorf("not a string: %s", Print(v))
}
