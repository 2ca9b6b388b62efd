package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPTool_GET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET request, got %s", r.Method)
		}
		w.Header().Set("X-Policy", "v1")
		_, _ = w.Write([]byte("## Booking\nRules"))
	}))
	defer server.Close()

	result, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{"url": server.URL})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["status_code"] != 200 {
		t.Errorf("status_code = %v, want 200", result["status_code"])
	}
	if result["body"] != "## Booking\nRules" {
		t.Errorf("body = %q", result["body"])
	}
	headers := result["headers"].(map[string]interface{})
	if headers["X-Policy"] != "v1" {
		t.Errorf("headers = %v", headers)
	}
}

func TestHTTPTool_POSTJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST request, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing authorization header")
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"echo": body["query"]})
	}))
	defer server.Close()

	result, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method":  "post",
		"url":     server.URL,
		"headers": map[string]interface{}{"Authorization": "Bearer k"},
		"body":    map[string]interface{}{"query": "zurich"},
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(result["body"].(string)), &decoded); err != nil {
		t.Fatalf("response body: %v", err)
	}
	if decoded["echo"] != "zurich" {
		t.Errorf("echo = %q", decoded["echo"])
	}
}

func TestHTTPTool_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]interface{}
	}{
		{"missing url", map[string]interface{}{}},
		{"unsupported method", map[string]interface{}{"url": "http://localhost", "method": "DELETE"}},
		{"invalid url", map[string]interface{}{"url": "://bad"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHTTPTool().Call(context.Background(), tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHTTPTool_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := NewHTTPTool().Call(ctx, map[string]interface{}{"url": server.URL}); err == nil {
		t.Error("expected timeout error")
	}
}
