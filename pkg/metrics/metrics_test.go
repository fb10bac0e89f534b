package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCall("inbound")
		m.RecordCallError("protocol")
		m.ObserveCallDuration(0.01)
		m.SetPendingSessions(3)
		m.SetActiveConnections(1)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordCall("inbound")
	m.RecordCall("inbound")
	m.RecordCall("outbound")
	m.RecordCallError("application")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.callsTotal.WithLabelValues("inbound")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.callsTotal.WithLabelValues("outbound")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.callErrorsTotal.WithLabelValues("application")))
}

func TestGauges(t *testing.T) {
	m := New()
	m.SetActiveConnections(4)
	m.SetPendingSessions(2)

	assert.Equal(t, float64(4), testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.pendingSessions))
}

func TestServe_ExposesMetricsAndHealth(t *testing.T) {
	m := New()
	m.RecordCall("inbound")

	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.Serve(ctx, ServerConfig{Enabled: true, Port: port})
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	assert.Contains(t, body, "sexpc_calls_total")

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not shut down")
	}
}

// freePort asks the OS for an ephemeral port and releases it for reuse.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
