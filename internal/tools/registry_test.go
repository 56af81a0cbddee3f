package tools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestMux(t *testing.T, cfg GatewayConfig) *http.ServeMux {
	t.Helper()
	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	mux := http.NewServeMux()
	reg.Mount(mux)
	return mux
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHelloRequiresName(t *testing.T) {
	mux := newTestMux(t, DefaultGatewayConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/tools/hello", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "name is required" {
		t.Fatalf("unexpected error body: %v", body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/tools/hello", strings.NewReader(`{"name":"Alice"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["message"] != "Hello, Alice!" {
		t.Fatalf("unexpected greeting: %v", body)
	}
}

func TestEchoWithTimestampOption(t *testing.T) {
	cfg := DefaultGatewayConfig()
	tool := cfg.Tools["echo"]
	tool.Options = map[string]any{"timestamp": true}
	cfg.Tools["echo"] = tool
	mux := newTestMux(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/tools/echo", strings.NewReader(`{"message":"ping"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["echo"] != "ping" {
		t.Fatalf("unexpected echo: %v", body)
	}
	if _, ok := body["timestamp"]; !ok {
		t.Fatalf("expected timestamp in response: %v", body)
	}
}

func TestEnhanceModes(t *testing.T) {
	mux := newTestMux(t, DefaultGatewayConfig())

	cases := []struct {
		mode string
		text string
		want string
	}{
		{mode: "uppercase", text: "hello world", want: "HELLO WORLD"},
		{mode: "title", text: "hello world", want: "Hello World"},
		{mode: "reverse", text: "abc", want: "cba"},
	}
	for _, tc := range cases {
		payload := `{"text":"` + tc.text + `","mode":"` + tc.mode + `"}`
		req := httptest.NewRequest(http.MethodPost, "/api/tools/enhance", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("mode %s: expected 200, got %d", tc.mode, rec.Code)
		}
		if body := decodeBody(t, rec); body["enhanced"] != tc.want {
			t.Fatalf("mode %s: got %v", tc.mode, body["enhanced"])
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/tools/enhance", strings.NewReader(`{"text":"x","mode":"shout"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", rec.Code)
	}
}

func TestHealthListsEnabledTools(t *testing.T) {
	cfg := DefaultGatewayConfig()
	tool := cfg.Tools["enhance"]
	tool.Enabled = false
	cfg.Tools["enhance"] = tool
	mux := newTestMux(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/tools/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("unexpected status: %v", body)
	}
	toolsList, ok := body["tools"].([]any)
	if !ok {
		t.Fatalf("expected tools list: %v", body)
	}
	for _, name := range toolsList {
		if name == "enhance" {
			t.Fatal("disabled tool must not be listed")
		}
	}
}

func TestLoadGatewayConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	content := `basePath: /tools
tools:
  hello:
    enabled: true
  enhance:
    enabled: true
    path: /text/enhance
    options:
      defaultMode: title
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BasePath != "/tools" {
		t.Fatalf("unexpected base path: %s", cfg.BasePath)
	}
	mux := newTestMux(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/tools/text/enhance", strings.NewReader(`{"text":"go tools"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["enhanced"] != "Go Tools" {
		t.Fatalf("expected default title mode, got %v", body)
	}
}

func TestValidateRejectsUnknownTool(t *testing.T) {
	cfg := GatewayConfig{Tools: map[string]ToolConfig{
		"teleport": {Enabled: true},
	}}
	cfg.applyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown tool")
	}
}
