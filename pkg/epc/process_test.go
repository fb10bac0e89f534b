package epc

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitPortLine(t *testing.T) {
	port, err := awaitPortLine(context.Background(), strings.NewReader("9789\n"))
	require.NoError(t, err)
	assert.Equal(t, 9789, port)
}

func TestAwaitPortLine_TrimsWhitespace(t *testing.T) {
	port, err := awaitPortLine(context.Background(), strings.NewReader("  4321 \nlog noise\n"))
	require.NoError(t, err)
	assert.Equal(t, 4321, port)
}

func TestAwaitPortLine_BadLine(t *testing.T) {
	_, err := awaitPortLine(context.Background(), strings.NewReader("starting up...\n"))
	require.Error(t, err)
}

func TestAwaitPortLine_OutOfRange(t *testing.T) {
	_, err := awaitPortLine(context.Background(), strings.NewReader("70000\n"))
	require.Error(t, err)

	_, err = awaitPortLine(context.Background(), strings.NewReader("0\n"))
	require.Error(t, err)
}
