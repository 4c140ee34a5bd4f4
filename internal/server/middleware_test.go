package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_CORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		corsOrigin     string
		method         string
		shouldCallNext bool
	}{
		{"GET request with CORS headers", "*", http.MethodGet, true},
		{"POST request with specific origin", "https://example.com", http.MethodPost, true},
		{"OPTIONS request (preflight)", "*", http.MethodOptions, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &Server{corsOrigin: tt.corsOrigin}
			called := false
			handler := server.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusTeapot)
			})

			w := httptest.NewRecorder()
			handler(w, httptest.NewRequest(tt.method, "/test", nil))

			assert.Equal(t, tt.shouldCallNext, called)
			if tt.shouldCallNext {
				assert.Equal(t, http.StatusTeapot, w.Code)
			} else {
				assert.Equal(t, http.StatusOK, w.Code)
			}
			assert.Equal(t, tt.corsOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, "POST, GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Content-Type, X-Requested-With, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
		})
	}
}

func TestServer_PreflightThroughRoutes(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodOptions, "/upload", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RateLimitMiddleware(t *testing.T) {
	t.Run("disabled passes through", func(t *testing.T) {
		server := &Server{}
		called := 0
		handler := server.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) { called++ })
		for range 5 {
			handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		}
		assert.Equal(t, 5, called)
	})

	t.Run("per minute limit", func(t *testing.T) {
		server := &Server{rateLimiter: NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerMinute: 2})}
		handler := server.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		var last *httptest.ResponseRecorder
		for range 3 {
			last = httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			handler(last, req)
		}
		assert.Equal(t, http.StatusTooManyRequests, last.Code)
		assert.Equal(t, "minute", last.Header().Get("X-RateLimit-Type"))
		assert.Equal(t, "2", last.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, last.Header().Get("Retry-After"))

		var body map[string]any
		require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
		assert.Equal(t, "rate_limit_exceeded", body["error"])
		assert.InDelta(t, 0, body["status"], 0)

		// Another client is unaffected.
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		handler(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("daily data quota", func(t *testing.T) {
		server := &Server{rateLimiter: NewRateLimiter(RateLimitConfig{Enabled: true, MaxDataPerDay: 100})}
		handler := server.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) {})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.ContentLength = 500
		handler(w, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "data", w.Header().Get("X-Quota-Type"))
		assert.Equal(t, "100", w.Header().Get("X-Quota-Limit"))
	})
}

func TestServer_RateLimitKeyedByUser(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{Enabled: true, RequestsPerMinute: 1}
	})
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	assert.Equal(t, http.StatusOK, env.do(uploadRequest(t, alice, "a.png", defectPNG(t), "")).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(uploadRequest(t, alice, "b.png", defectPNG(t), "")).Code)
	assert.Equal(t, http.StatusOK, env.do(uploadRequest(t, bob, "c.png", defectPNG(t), "")).Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xri        string
		remoteAddr string
		expected   string
	}{
		{"forwarded chain", "203.0.113.7, 10.0.0.1", "", "10.0.0.1:80", "203.0.113.7"},
		{"single forwarded", "203.0.113.8", "", "10.0.0.1:80", "203.0.113.8"},
		{"real ip", "", "198.51.100.1", "10.0.0.1:80", "198.51.100.1"},
		{"remote addr", "", "", "192.0.2.1:5555", "192.0.2.1"},
		{"remote without port", "", "", "192.0.2.2", "192.0.2.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.expected, getClientIP(req))
		})
	}
}

func TestWriteStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writeStatus(w, http.StatusConflict, "nope")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"status":0,"message":"nope"}`, w.Body.String())

	w = httptest.NewRecorder()
	writeStatus(w, http.StatusOK, "ok")
	assert.JSONEq(t, `{"status":1,"message":"ok"}`, w.Body.String())
}
