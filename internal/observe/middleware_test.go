package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestRouter(t *testing.T) (*gin.Engine, *sdkmetric.ManualReader) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m, reader := newTestMetrics(t)
	r := gin.New()
	r.Use(GinMetrics(m))
	return r, reader
}

func routeAttr(dp metricdata.HistogramDataPoint[float64]) string {
	v, _ := dp.Attributes.Value(attribute.Key("route"))
	return v.AsString()
}

func TestGinMetrics_RecordsRouteTemplate(t *testing.T) {
	r, reader := newTestRouter(t)
	r.GET("/api/accounts/:creator", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, handle := range []string{"alice", "bob"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/accounts/"+handle, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
	}

	rm := collect(t, reader)
	metric := findMetric(rm, "reelsonar.http.request.duration")
	if metric == nil {
		t.Fatal("http request duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", metric.Data)
	}
	// Both requests collapse into one series keyed by the route template.
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	if got := routeAttr(dp); got != "/api/accounts/:creator" {
		t.Errorf("route attribute = %q, want route template", got)
	}
}

func TestGinMetrics_UnmatchedRoute(t *testing.T) {
	r, reader := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/no/such/path", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	rm := collect(t, reader)
	metric := findMetric(rm, "reelsonar.http.request.duration")
	if metric == nil {
		t.Fatal("http request duration metric not found")
	}
	hist := metric.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}
	if got := routeAttr(hist.DataPoints[0]); got != "unmatched" {
		t.Errorf("route attribute = %q, want \"unmatched\"", got)
	}
}

func TestGinMetrics_SeparatesMethods(t *testing.T) {
	r, reader := newTestRouter(t)
	r.GET("/api/jobs", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/jobs", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, "/api/jobs", nil))
	}

	rm := collect(t, reader)
	metric := findMetric(rm, "reelsonar.http.request.duration")
	if metric == nil {
		t.Fatal("http request duration metric not found")
	}
	hist := metric.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 2 {
		t.Fatalf("got %d data points, want 2 (one per method)", len(hist.DataPoints))
	}
}
