package httpx

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/metrics"
)

func TestRequestLogger(t *testing.T) {
	tests := []int{http.StatusOK, http.StatusInternalServerError}
	for _, code := range tests {
		t.Run(http.StatusText(code), func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(code)
			})
			w := httptest.NewRecorder()
			RequestLogger(next).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/score?site=a.com", nil))

			if !called {
				t.Error("next handler should have been called")
			}
			if w.Code != code {
				t.Errorf("status code = %d, want %d", w.Code, code)
			}
		})
	}
}

func TestCors(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("sets headers and passes through", func(t *testing.T) {
		w := httptest.NewRecorder()
		cors(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/score", nil))

		if w.Code != http.StatusTeapot {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusTeapot)
		}
		want := map[string]string{
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Headers": "Content-Type, X-PhantomTrail-HMAC",
			"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		}
		for k, v := range want {
			if got := w.Header().Get(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
	})

	t.Run("answers preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		cors(next).ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/observe/page", nil))
		if w.Code != http.StatusNoContent {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}

func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: recorder, statusCode: http.StatusOK}
		rw.WriteHeader(http.StatusCreated)

		if rw.statusCode != http.StatusCreated || recorder.Code != http.StatusCreated {
			t.Errorf("statusCode = %d, recorder = %d", rw.statusCode, recorder.Code)
		}
	})

	t.Run("defaults to 200 OK", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
		rw.Write([]byte("test"))
		if rw.statusCode != http.StatusOK {
			t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusOK)
		}
	})

	t.Run("embeds ResponseWriter", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: recorder, statusCode: http.StatusOK}
		rw.Header().Set("X-Test", "value")
		if got := recorder.Header().Get("X-Test"); got != "value" {
			t.Errorf("header X-Test = %q, want value", got)
		}
	})
}

func TestMetricsMiddleware(t *testing.T) {
	handler := func(code int) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})
	}

	t.Run("nil metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		MetricsMiddleware(nil)(handler(http.StatusOK)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status code = %d", w.Code)
		}
	})

	t.Run("records known routes and status", func(t *testing.T) {
		m := metrics.NewRegistry()
		mw := MetricsMiddleware(m)

		for _, code := range []int{http.StatusOK, http.StatusOK, http.StatusBadRequest} {
			w := httptest.NewRecorder()
			mw(handler(code)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/score", nil))
			if w.Code != code {
				t.Errorf("status code = %d, want %d", w.Code, code)
			}
		}
		if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/score", "GET", "200")); got != 2 {
			t.Errorf("200 count = %v, want 2", got)
		}
		if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/score", "GET", "400")); got != 1 {
			t.Errorf("400 count = %v, want 1", got)
		}
		if n := testutil.CollectAndCount(m.HTTPDuration); n != 1 {
			t.Errorf("duration series = %d, want 1", n)
		}
	})

	t.Run("unknown paths share a label", func(t *testing.T) {
		m := metrics.NewRegistry()
		mw := MetricsMiddleware(m)
		for _, p := range []string{"/wp-admin", "/random/123", "/v1/score/extra"} {
			mw(handler(http.StatusNotFound)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
		}
		if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("other", "GET", "404")); got != 3 {
			t.Errorf("other count = %v, want 3", got)
		}
	})
}

func TestMiddlewareChaining(t *testing.T) {
	m := metrics.NewRegistry()
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestLogger(MetricsMiddleware(m)(cors(final)))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/tabs/close", bytes.NewReader([]byte("{}"))))

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/tabs/close", "POST", "200")); got != 1 {
		t.Errorf("request count = %v", got)
	}
}
