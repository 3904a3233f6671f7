package webui

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggingMiddlewareLevels(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel zapcore.Level
	}{
		{name: "ok", status: http.StatusOK, wantLevel: zapcore.InfoLevel},
		{name: "client error", status: http.StatusNotFound, wantLevel: zapcore.WarnLevel},
		{name: "server error", status: http.StatusBadGateway, wantLevel: zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			mw := NewLoggingMiddleware(zap.New(core))
			h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("hello"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			h.ServeHTTP(httptest.NewRecorder(), req)

			entries := logs.FilterMessage("HTTP request").All()
			if len(entries) != 1 {
				t.Fatalf("got %d log entries, want 1", len(entries))
			}
			e := entries[0]
			if e.Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", e.Level, tt.wantLevel)
			}
			if e.LoggerName != "http" {
				t.Errorf("logger name = %q, want http", e.LoggerName)
			}
			fields := e.ContextMap()
			if fields["status"] != int64(tt.status) {
				t.Errorf("status field = %v, want %d", fields["status"], tt.status)
			}
			if fields["bytes"] != int64(5) {
				t.Errorf("bytes field = %v, want 5", fields["bytes"])
			}
			if fields["remote_ip"] != "203.0.113.7" {
				t.Errorf("remote_ip = %v", fields["remote_ip"])
			}
		})
	}
}

func TestLoggingMiddlewareSkipPaths(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mw := NewLoggingMiddleware(zap.New(core), "/health")
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if logs.Len() != 0 {
		t.Errorf("logged %d entries for a skipped path", logs.Len())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if logs.Len() != 1 {
		t.Errorf("logged %d entries, want 1", logs.Len())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": " 198.51.100.2 , 10.0.0.1"}, remoteAddr: "10.0.0.1:1234", want: "198.51.100.2"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.3"}, remoteAddr: "10.0.0.1:1234", want: "198.51.100.3"},
		{name: "remote addr", remoteAddr: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.9", want: "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
