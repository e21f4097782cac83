package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Calls.WithLabelValues("/example.Examples/SendExampleMessage", OutcomeOK).Inc()
	m.InFlight.Set(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "grpcbridge_client_calls_in_flight 2"))
	require.True(t, strings.Contains(string(body), `grpcbridge_client_calls_total{method="/example.Examples/SendExampleMessage",outcome="ok"} 1`))
}

func TestNewWithRejectsDuplicates(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewWith(reg, reg)
	require.NoError(t, err)
	_, err = NewWith(reg, reg)
	require.Error(t, err)
}

func TestServerSubsystem(t *testing.T) {
	m := NewServer()
	m.Calls.WithLabelValues("/example.Examples/SendExampleMessage", OutcomeCancelled).Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), `grpcbridge_server_calls_total{method="/example.Examples/SendExampleMessage",outcome="cancelled"} 1`)
}
