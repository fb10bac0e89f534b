package epc

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/sexpc/pkg/sexp"
)

func TestEncodeFrame_HeaderDeclaresPayloadLength(t *testing.T) {
	cases := []sexp.Value{
		sexp.String("hi"),
		sexp.List{sexp.Symbol("call"), sexp.Int(1), sexp.Symbol("echo"), sexp.List{sexp.String("hi")}},
		sexp.String("héllo 世界"),
		sexp.Nil,
	}
	for _, v := range cases {
		frame, err := encodeFrame(v)
		require.NoError(t, err)

		n, err := strconv.ParseInt(string(frame[:headerLen]), 16, 64)
		require.NoError(t, err)
		assert.Equal(t, int64(len(frame)-headerLen), n, "frame %q", frame)
		assert.Equal(t, byte('\n'), frame[len(frame)-1])
	}
}

func TestEncodeFrame_KnownBytes(t *testing.T) {
	frame, err := encodeFrame(sexp.List{sexp.Symbol("return"), sexp.Int(1), sexp.String("hi")})
	require.NoError(t, err)
	assert.Equal(t, "000010(return 1 \"hi\")\n", string(frame))
}

func TestDecoder_RoundTrip(t *testing.T) {
	want := sexp.List{sexp.Symbol("call"), sexp.Int(3), sexp.Symbol("add"), sexp.List{sexp.Int(1), sexp.Float(2.5), sexp.String("三")}}
	frame, err := encodeFrame(want)
	require.NoError(t, err)

	var d decoder
	d.feed(frame)
	got, err := d.next()
	require.NoError(t, err)
	assert.True(t, sexp.Equal(want, got))

	_, err = d.next()
	assert.ErrorIs(t, err, errIncompleteFrame)
}

func TestDecoder_PartialFramesStayBuffered(t *testing.T) {
	frame, err := encodeFrame(sexp.List{sexp.Symbol("return"), sexp.Int(9), sexp.String("later")})
	require.NoError(t, err)

	var d decoder
	for i := 0; i < len(frame)-1; i++ {
		d.feed(frame[i : i+1])
		_, err := d.next()
		require.ErrorIs(t, err, errIncompleteFrame, "after %d bytes", i+1)
	}

	d.feed(frame[len(frame)-1:])
	v, err := d.next()
	require.NoError(t, err)
	list, err := sexp.AsList(v)
	require.NoError(t, err)
	assert.Equal(t, sexp.Symbol("return"), list[0])
}

func TestDecoder_MultipleFramesInOneFeed(t *testing.T) {
	var buf []byte
	for i := 0; i < 3; i++ {
		frame, err := encodeFrame(sexp.Int(int64(i)))
		require.NoError(t, err)
		buf = append(buf, frame...)
	}

	var d decoder
	d.feed(buf)
	for i := 0; i < 3; i++ {
		v, err := d.next()
		require.NoError(t, err)
		assert.Equal(t, sexp.Int(int64(i)), v)
	}
	_, err := d.next()
	assert.ErrorIs(t, err, errIncompleteFrame)
}

func TestDecoder_BadPayloadSkipsOnlyThatFrame(t *testing.T) {
	bad := []byte("(unclosed\n")
	buf := []byte(fmt.Sprintf("%06x", len(bad)))
	buf = append(buf, bad...)

	good, err := encodeFrame(sexp.Symbol("ok"))
	require.NoError(t, err)
	buf = append(buf, good...)

	var d decoder
	d.feed(buf)

	_, err = d.next()
	var fe *FrameError
	require.ErrorAs(t, err, &fe)

	v, err := d.next()
	require.NoError(t, err)
	assert.Equal(t, sexp.Symbol("ok"), v)
}

func TestDecoder_ZeroLengthHeaderIsFatal(t *testing.T) {
	var d decoder
	d.feed([]byte("000000extra"))
	_, err := d.next()
	require.Error(t, err)
	var fe *FrameError
	assert.False(t, errors.As(err, &fe), "zero length must not be skippable")
}

func TestDecoder_MalformedHeaderIsFatal(t *testing.T) {
	var d decoder
	d.feed([]byte("00FY00(x)\n"))
	_, err := d.next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, errIncompleteFrame)
	var fe *FrameError
	assert.False(t, errors.As(err, &fe))
}
