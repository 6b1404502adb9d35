package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsRequestsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewCollector()

	router := gin.New()
	router.Use(c.Middleware())
	router.GET("/items/:id", func(ctx *gin.Context) { ctx.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	}

	got := testutil.ToFloat64(c.httpRequests.WithLabelValues(http.MethodGet, "/items/:id", "204"))
	if got != 2 {
		t.Fatalf("expected 2 requests, got %f", got)
	}
}

func TestObserveVerdictAndHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveVerdict("unsafe", 0.9)
	c.ObserveClassifier("ok", 120*time.Millisecond)

	if got := testutil.ToFloat64(c.verdicts.WithLabelValues("unsafe")); got != 1 {
		t.Fatalf("expected one unsafe verdict, got %f", got)
	}

	resp := httptest.NewRecorder()
	c.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "image_moderation_verdicts_total") {
		t.Fatal("expected verdict metric in exposition output")
	}
}
