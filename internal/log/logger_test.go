package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewHandlerFormat(t *testing.T) {
	tests := []struct {
		name   string
		format string
		json   bool
	}{
		{"json", "json", true},
		{"text", "text", false},
		{"unknown falls back to text", "xml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: slog.LevelInfo, Format: tt.format, Component: ComponentLedger, Output: &buf})
			logger.Info("posted", FieldTransactionID, "tx-1")

			var record map[string]any
			isJSON := json.Unmarshal(buf.Bytes(), &record) == nil
			if isJSON != tt.json {
				t.Fatalf("output %q: json = %v, want %v", buf.String(), isJSON, tt.json)
			}
			if !strings.Contains(buf.String(), "component") || !strings.Contains(buf.String(), ComponentLedger) {
				t.Errorf("output %q misses component", buf.String())
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Output: &buf})
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info record written at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn record missing: %q", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()).Component(); got != "unknown" {
		t.Errorf("FromContext(empty).Component() = %q, want unknown", got)
	}
	logger := New(Config{Component: ComponentScheduler, Output: &bytes.Buffer{}})
	ctx := NewContext(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Errorf("FromContext() = %p, want %p", got, logger)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Component: ComponentHTTP, Output: &buf})

	handler := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req_42" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).InfoContext(r.Context(), "inside handler")
		})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/accounts", nil))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log record: %v (%q)", err, buf.String())
	}
	if record[FieldRequestID] != "req_42" {
		t.Errorf("request_id = %v, want req_42", record[FieldRequestID])
	}
}

func TestLogFields(t *testing.T) {
	fields := NewFields().
		WithTransaction("tx-1", "transfer", "checking", "", "50.00").
		WithError(nil).
		WithError(errors.New("boom")).
		WithRequestID("")

	if _, ok := fields[FieldToAccountID]; ok {
		t.Error("empty to_account_id should be skipped")
	}
	if _, ok := fields[FieldRequestID]; ok {
		t.Error("empty request_id should be skipped")
	}
	if fields[FieldError] != "boom" {
		t.Errorf("error = %v, want boom", fields[FieldError])
	}
	if got := len(fields.ToSlice()); got != 2*len(fields) {
		t.Errorf("ToSlice() len = %d, want %d", got, 2*len(fields))
	}
}
