package sexp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrint_Atoms(t *testing.T) {
	assert.Equal(t, "foo", Print(Symbol("foo")))
	assert.Equal(t, "42", Print(Int(42)))
	assert.Equal(t, "-7", Print(Int(-7)))
	assert.Equal(t, `"hi"`, Print(String("hi")))
	assert.Equal(t, "nil", Print(Nil))
	assert.Equal(t, "nil", Print(nil))
}

func TestPrint_FloatAlwaysReadsBackAsFloat(t *testing.T) {
	assert.Equal(t, "1.5", Print(Float(1.5)))
	// A whole-valued float must not print as an integer.
	assert.Equal(t, "1.0", Print(Float(1)))

	v, err := ReadString(Print(Float(3)))
	require.NoError(t, err)
	assert.Equal(t, Float(3), v)
}

func TestPrint_StringEscapes(t *testing.T) {
	assert.Equal(t, `"a\"b"`, Print(String(`a"b`)))
	assert.Equal(t, `"a\\b"`, Print(String(`a\b`)))
	assert.Equal(t, `"a\nb"`, Print(String("a\nb")))
	assert.Equal(t, `"a\tb"`, Print(String("a\tb")))
}

func TestPrint_NonASCIIUnescaped(t *testing.T) {
	assert.Equal(t, `"héllo 世界"`, Print(String("héllo 世界")))
}

func TestPrint_List(t *testing.T) {
	v := List{Symbol("call"), Int(1), Symbol("echo"), List{String("hi")}}
	assert.Equal(t, `(call 1 echo ("hi"))`, Print(v))
}

func TestRead_RoundTrip(t *testing.T) {
	cases := []Value{
		Symbol("echo"),
		Int(0),
		Int(-123456),
		Float(2.25),
		Float(-0.5),
		String(""),
		String("héllo 世界"),
		String("tab\tnewline\nquote\"backslash\\"),
		Nil,
		List{Int(1), Int(2), Int(3)},
		List{Symbol("a"), List{Symbol("b"), List{Symbol("c")}}, String("d")},
		List{Symbol("return"), Int(7), List{List{Symbol("echo"), String("(X)"), String("echo X")}}},
	}
	for _, want := range cases {
		got, err := ReadString(Print(want))
		require.NoError(t, err, "round-tripping %s", Print(want))
		assert.True(t, Equal(want, got), "want %s, got %s", Print(want), Print(got))
	}
}

func TestRead_NilForms(t *testing.T) {
	for _, input := range []string{"nil", "()", "( )"} {
		v, err := ReadString(input)
		require.NoError(t, err)
		assert.True(t, IsNil(v), "input %q", input)
	}
}

func TestRead_TrailingNewlineAllowed(t *testing.T) {
	v, err := ReadString("(call 1 echo nil)\n")
	require.NoError(t, err)
	list, err := AsList(v)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestRead_Errors(t *testing.T) {
	cases := []string{
		"",
		"(",
		"(a b",
		`"unterminated`,
		`"bad \x escape"`,
		")",
		"(a) trailing",
	}
	for _, input := range cases {
		_, err := ReadString(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestRead_NegativeAndSignedAtoms(t *testing.T) {
	v, err := ReadString("-12")
	require.NoError(t, err)
	assert.Equal(t, Int(-12), v)

	// A lone dash is a symbol, not a number.
	v, err = ReadString("-")
	require.NoError(t, err)
	assert.Equal(t, Symbol("-"), v)

	v, err = ReadString("1.5e3")
	require.NoError(t, err)
	assert.Equal(t, Float(1500), v)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Nil, nil))
	assert.True(t, Equal(List{Int(1)}, List{Int(1)}))
	assert.False(t, Equal(List{Int(1)}, List{Int(2)}))
	assert.False(t, Equal(Int(1), Float(1)))
	assert.False(t, Equal(Symbol("a"), String("a")))
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(42)
	require.NoError(t, err)
	assert.Equal(t, Int(42), v)

	v, err = FromGo("hi")
	require.NoError(t, err)
	assert.Equal(t, String("hi"), v)

	v, err = FromGo(true)
	require.NoError(t, err)
	assert.Equal(t, Symbol("t"), v)

	v, err = FromGo(false)
	require.NoError(t, err)
	assert.True(t, IsNil(v))

	v, err = FromGo([]any{1, "two", 3.0})
	require.NoError(t, err)
	assert.Equal(t, "(1 \"two\" 3.0)", Print(v))

	_, err = FromGo(struct{}{})
	assert.Error(t, err)
}

func TestToGo(t *testing.T) {
	assert.Equal(t, int64(3), ToGo(Int(3)))
	assert.Equal(t, "x", ToGo(String("x")))
	assert.Nil(t, ToGo(Nil))
	assert.Equal(t, []any{int64(1), "two"}, ToGo(List{Int(1), String("two")}))
}
