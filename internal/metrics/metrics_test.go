package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCountsReloads(t *testing.T) {
	registry := NewRegistry()

	registry.IncReload("reload")
	registry.IncReload("reload")
	registry.IncReload("css")

	assert.Equal(t, 2.0, testutil.ToFloat64(registry.reloads.WithLabelValues("reload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.reloads.WithLabelValues("css")))
}

func TestRegistryClassifiesHTTPStatus(t *testing.T) {
	registry := NewRegistry()

	registry.IncHTTPRequest(http.StatusOK)
	registry.IncHTTPRequest(http.StatusNotModified)
	registry.IncHTTPRequest(http.StatusNotFound)
	registry.IncHTTPRequest(http.StatusNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(registry.httpRequests.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.httpRequests.WithLabelValues("3xx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(registry.httpRequests.WithLabelValues("4xx")))
}

func TestRegistryHandlerExposesMetrics(t *testing.T) {
	registry := NewRegistry()
	registry.SetConnectedClients(3)
	registry.IncWatchEvent("")

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.True(t, strings.Contains(body, "devserve_connected_clients 3"), body)
	assert.True(t, strings.Contains(body, `devserve_watch_events_total{op="unknown"} 1`), body)
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.IncReload("reload")
	registry.SetConnectedClients(1)
	registry.IncWatchError()
	registry.SetEventSubscribers("bus", 1)

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
