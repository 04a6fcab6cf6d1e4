// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware_test

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	"github.com/taibuivan/decorly/internal/platform/middleware"
)

type envConfig struct{ development bool }

func (c envConfig) IsDevelopment() bool { return c.development }

var okHandler = http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	var seen string
	handler := middleware.RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, request *http.Request) {
		seen = ctxutil.GetRequestID(request.Context())
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, recorder.Header().Get("X-Request-ID"))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("X-Request-ID", "client-supplied")
	handler.ServeHTTP(httptest.NewRecorder(), request)
	assert.Equal(t, "client-supplied", seen)
}

func TestProxyHeaders(t *testing.T) {
	var remote string
	capture := http.HandlerFunc(func(_ http.ResponseWriter, request *http.Request) {
		remote = request.RemoteAddr
	})

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.RemoteAddr = "10.0.0.9:4000"
	request.Header.Set("X-Forwarded-For", "203.0.113.7")

	middleware.ProxyHeaders(false)(capture).ServeHTTP(httptest.NewRecorder(), request)
	assert.Equal(t, "10.0.0.9:4000", remote)

	middleware.ProxyHeaders(true)(capture).ServeHTTP(httptest.NewRecorder(), request)
	assert.Equal(t, "203.0.113.7", remote)
}

func TestStructuredLogger(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buffer, nil))

	handler := middleware.StructuredLogger(logger)(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		ctxutil.GetLogger(request.Context()).Info("inside_handler")
		writer.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/me", nil))

	output := buffer.String()
	assert.Contains(t, output, `"msg":"inside_handler"`)
	assert.Contains(t, output, `"msg":"http_request_finished"`)
	assert.Contains(t, output, `"status":418`)
	assert.Contains(t, output, `"path":"/me"`)
}

func TestIPLimiter(t *testing.T) {
	limiter := middleware.NewIPLimiter(1, 2)
	handler := limiter.Middleware(okHandler)

	send := func(addr string) int {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.RemoteAddr = addr
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		return recorder.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1:1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.1:2"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1:3"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2:1"))
}

func TestPanicRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := middleware.StructuredLogger(logger)(middleware.PanicRecovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.NotContains(t, recorder.Body.String(), "boom")
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		development bool
		origin      string
		allowed     bool
	}{
		{"dev_any_origin", true, "http://localhost:5173", true},
		{"prod_subdomain", false, "https://studio.decorly.app", true},
		{"prod_apex", false, "https://decorly.app", true},
		{"prod_extra", false, "https://partner.example", true},
		{"prod_foreign", false, "https://evil.example", false},
		{"prod_suffix_trick", false, "https://notdecorly.app", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.CORS(envConfig{tt.development}, "https://partner.example")(okHandler)
			request := httptest.NewRequest(http.MethodGet, "/", nil)
			request.Header.Set("Origin", tt.origin)

			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)

			if tt.allowed {
				assert.Equal(t, tt.origin, recorder.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}
