package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/config"
)

func TestManagerPrometheusMetrics(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	var cfg config.Config
	cfg.Observability = config.Observability{
		ServiceName:     "orderflow",
		Environment:     "test",
		EnableMetrics:   true,
		MetricsExporter: "prometheus",
		PrometheusPath:  "/metrics",
	}

	mgr, err := NewManager(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	lc.RequireStart()
	defer lc.RequireStop()

	assert.False(t, mgr.TracingEnabled())
	require.True(t, mgr.MetricsEnabled())
	assert.Equal(t, "/metrics", mgr.PrometheusPath())

	counter, err := otel.Meter("test").Int64Counter("orderflow.test.sample")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
	assert.Contains(t, string(body), "orderflow_test_sample")
}

func TestManagerDisabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	var cfg config.Config
	cfg.Observability = config.Observability{ServiceName: "orderflow", EnableTracing: true, TraceExporter: "none"}

	mgr, err := NewManager(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	lc.RequireStart()
	defer lc.RequireStop()

	assert.False(t, mgr.TracingEnabled())
	assert.False(t, mgr.MetricsEnabled())
	assert.Nil(t, mgr.MetricsHandler())
}
