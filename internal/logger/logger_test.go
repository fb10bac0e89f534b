package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextOutputContainsFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("Call sent", KeyUID, 7, KeyMethod, "echo")

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "Call sent")
	assert.Contains(t, out, "uid=7")
	assert.Contains(t, out, "method=echo")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Debug("not this")
	Info("nor this")
	Warn("but this")

	out := buf.String()
	assert.NotContains(t, out, "not this")
	assert.NotContains(t, out, "nor this")
	assert.Contains(t, out, "but this")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("peer connected", KeyPeer, "127.0.0.1:4242")

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "peer connected", record["msg"])
	assert.Equal(t, "127.0.0.1:4242", record[KeyPeer])
}

func TestInvalidLevelIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	SetLevel("NOISY") // ignored
	Info("still works")
	assert.Contains(t, buf.String(), "still works")
}

func TestColorOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", true)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("tinted")
	assert.Contains(t, buf.String(), "\033[32m")
}
