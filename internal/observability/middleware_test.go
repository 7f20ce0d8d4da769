package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRequestMiddlewareLogsAndCounts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(RequestLogger(logger, "receiver"))
	r.Use(RequestMetricsMiddleware("receiver"))
	r.GET("/missing/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("receiver", "GET", "/missing/:id", "404"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing/7", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rr.Code)
	}

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"path":"/missing/:id"`) {
		t.Fatalf("unexpected request log: %s", out)
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("receiver", "GET", "/missing/:id", "404"))
	if after != before+1 {
		t.Fatalf("request counter=%v want %v", after, before+1)
	}
}
