package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestNew_formats(t *testing.T) {
	for _, format := range []string{"json", "text", "pretty", ""} {
		if New("info", format) == nil {
			t.Errorf("New(%q) returned nil", format)
		}
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Get("/proxy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello"))
	})

	req := httptest.NewRequest(http.MethodGet, "/proxy?url=https%3A%2F%2Fsecret", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["size"] != float64(5) {
		t.Errorf("unexpected status/size: %v", entry)
	}
	if entry["path"] != "/proxy" {
		t.Errorf("unexpected path: %v", entry["path"])
	}
	if entry["request_id"] == "" {
		t.Error("missing request id")
	}
	if bytes.Contains(buf.Bytes(), []byte("secret")) {
		t.Error("query string must not be logged")
	}
}

func TestRequestLogger_logs_aborted_requests(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(RequestLogger(log))
	r.Get("/proxy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("part"))
		panic(http.ErrAbortHandler)
	})

	func() {
		defer func() {
			if p := recover(); p != http.ErrAbortHandler {
				t.Errorf("expected abort panic to propagate, got %v", p)
			}
		}()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/proxy", nil))
	}()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("aborted request was not logged: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "request aborted" || entry["level"] != "WARN" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["status"] != float64(http.StatusOK) || entry["size"] != float64(4) {
		t.Errorf("unexpected status/size: %v", entry)
	}
}
