package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Register()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/queues/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(Handler()))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/queues/:id", "204"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/queues/9", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/queues/:id", "204"))
	if after-before != 1 {
		t.Fatalf("request counter moved by %v", after-before)
	}

	IncSent("SENT")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "campaign_messages_sent_total") {
		t.Fatal("metrics endpoint missing campaign counters")
	}
}
