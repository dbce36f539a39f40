package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRoute(t *testing.T) {
	cases := map[string]string{
		"/":                  "/",
		"/image/U/760/a.jpg": "/image",
		"/dav":               "/dav",
		"/dav/123/":          "/dav",
		"/api/images":        "/api/images",
		"/healthz":           "/healthz",
		"/favicon.ico":       "other",
		"/imagefoo":          "other",
	}
	for in, want := range cases {
		assert.Equal(t, want, Route(in), in)
	}
}

func TestMiddleware_CountsByRoute(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/image", "404"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/image/a/b.jpg", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/image/c/d.jpg", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/image", "404"))

	assert.Equal(t, 2.0, after-before)
}

func TestRecordImageRequest(t *testing.T) {
	before := testutil.ToFloat64(imageRequestsTotal.WithLabelValues("invalid"))
	RecordImageRequest("invalid")
	assert.Equal(t, 1.0, testutil.ToFloat64(imageRequestsTotal.WithLabelValues("invalid"))-before)
}
