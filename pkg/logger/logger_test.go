package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestSetupWriter(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   io.Writer
	}{
		{"stdout output", Config{Output: "stdout"}, os.Stdout},
		{"stderr output", Config{Output: "stderr"}, os.Stderr},
		{"default output", Config{Output: ""}, os.Stdout},
		{"file output without filename", Config{Output: "file"}, os.Stdout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Same(t, tt.want, SetupWriter(tt.config))
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Config{Level: "info", Format: "json", Output: "stdout"}

	log := NewLogger(cfg)
	require.NotNil(t, log)
	log.Info("test message", "key", "value")
}

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "req_"))
	assert.GreaterOrEqual(t, len(id1), 5)
}

func TestWithRequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "test-request-id"

	newCtx := WithRequestID(ctx, requestID)

	assert.Equal(t, requestID, GetRequestID(newCtx))
}

func TestGetRequestIDEmpty(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var seenInHandler string
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenInHandler = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler := LoggingMiddleware(log)(testHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.NotEmpty(t, seenInHandler, "middleware must generate a request id when the caller sends none")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, seenInHandler, w.Header().Get("X-Request-ID"), "response header must carry the same id seen by the handler")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	for _, field := range []string{"method", "path", "status", "duration", "request_id"} {
		assert.Contains(t, logEntry, field)
	}
	assert.Equal(t, "GET", logEntry["method"])
	assert.Equal(t, "/test", logEntry["path"])
	assert.Equal(t, float64(200), logEntry["status"])
	assert.Equal(t, seenInHandler, logEntry["request_id"])
}

func TestLoggingMiddlewareWithExistingRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	existingRequestID := "existing-request-id"

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, existingRequestID, GetRequestID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})

	handler := LoggingMiddleware(log)(testHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", existingRequestID)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, existingRequestID, logEntry["request_id"])
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := WithRequestID(context.Background(), "test-id")
	FromContext(ctx, base).Info("test message")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "test-id", logEntry["request_id"])

	buf.Reset()
	FromContext(context.Background(), base).Info("test message")

	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.NotContains(t, logEntry, "request_id")
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	assert.Equal(t, http.StatusOK, rw.statusCode)

	rw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, rw.statusCode)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
