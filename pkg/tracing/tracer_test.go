package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestConfig_Sampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), Config{SampleRate: 1}.Sampler().Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), Config{SampleRate: 0}.Sampler().Description())
	assert.Contains(t, Config{SampleRate: 0.25}.Sampler().Description(), "TraceIDRatioBased")
}

func TestConfig_TLS(t *testing.T) {
	assert.True(t, Config{Environment: "production", Insecure: true}.useTLS())
	assert.True(t, Config{Environment: "development"}.useTLS())
	assert.False(t, Config{Environment: "development", Insecure: true}.useTLS())
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestConfig_Resource(t *testing.T) {
	res, err := Config{ServiceVersion: "1.2.3", Environment: "staging"}.resource(context.Background())
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, defaultServiceName, attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, "staging", attrs["deployment.environment"])
}

func TestConfig_ExporterOptions(t *testing.T) {
	assert.Len(t, Config{CollectorURL: "otel:4317", Insecure: true}.exporterOptions(), 2)
	assert.Len(t, Config{CollectorURL: "otel:4317", Environment: "production"}.exporterOptions(), 2)
}

func TestHTTPMiddleware_RecordsServerSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	router := gin.New()
	router.Use(HTTPMiddleware())
	router.GET("/api/v1/deposits/:id", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/deposits/abc", nil))

	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/deposits/:id", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}
