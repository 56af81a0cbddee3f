package tools

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// handlerBuilder 根据工具配置构造 HTTP 处理函数。
type handlerBuilder func(reg *Registry, cfg ToolConfig) http.HandlerFunc

var builtinHandlers = map[string]handlerBuilder{
	"hello":   buildHelloHandler,
	"echo":    buildEchoHandler,
	"enhance": buildEnhanceHandler,
	"health":  buildHealthHandler,
}

// Registry 持有已启用的工具及其路由。
type Registry struct {
	basePath string
	routes   map[string]http.HandlerFunc
	enabled  []string
}

// NewRegistry 根据配置构造工具注册表。
func NewRegistry(cfg GatewayConfig) (*Registry, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := &Registry{
		basePath: cfg.BasePath,
		routes:   make(map[string]http.HandlerFunc),
	}
	names := make([]string, 0, len(cfg.Tools))
	for name := range cfg.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tool := cfg.Tools[name]
		if !tool.Enabled {
			continue
		}
		build := builtinHandlers[name]
		reg.routes[cfg.BasePath+tool.Path] = build(reg, tool)
		reg.enabled = append(reg.enabled, name)
	}
	return reg, nil
}

// Mount 将所有已启用的工具挂载到给定的 mux。
func (reg *Registry) Mount(mux *http.ServeMux) {
	for path, handler := range reg.routes {
		mux.HandleFunc(path, handler)
	}
}

// Enabled 返回已启用工具的名称列表。
func (reg *Registry) Enabled() []string {
	return append([]string(nil), reg.enabled...)
}

// BasePath 返回工具网关的路由前缀。
func (reg *Registry) BasePath() string {
	return reg.basePath
}

func writeToolJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeToolError(w http.ResponseWriter, status int, message string) {
	writeToolJSON(w, status, map[string]string{"error": message})
}

func buildHelloHandler(_ *Registry, _ ToolConfig) http.HandlerFunc {
	type helloRequest struct {
		Name string `json:"name"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var name string
		switch r.Method {
		case http.MethodGet:
			name = r.URL.Query().Get("name")
		case http.MethodPost:
			var req helloRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeToolError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			name = req.Name
		default:
			writeToolError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		name = strings.TrimSpace(name)
		if name == "" {
			writeToolError(w, http.StatusBadRequest, "name is required")
			return
		}
		writeToolJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Hello, %s!", name),
		})
	}
}

func buildEchoHandler(_ *Registry, cfg ToolConfig) http.HandlerFunc {
	withTimestamp := false
	if raw, ok := cfg.Options["timestamp"]; ok {
		if enabled, ok := raw.(bool); ok {
			withTimestamp = enabled
		}
	}
	type echoRequest struct {
		Message string `json:"message"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeToolError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req echoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeToolError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		payload := map[string]string{"echo": req.Message}
		if withTimestamp {
			payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		}
		writeToolJSON(w, http.StatusOK, payload)
	}
}

// enhance 支持的文本处理模式。
const (
	modeUppercase = "uppercase"
	modeTitle     = "title"
	modeReverse   = "reverse"
)

func buildEnhanceHandler(_ *Registry, cfg ToolConfig) http.HandlerFunc {
	defaultMode := modeUppercase
	if raw, ok := cfg.Options["defaultMode"]; ok {
		if mode, ok := raw.(string); ok && mode != "" {
			defaultMode = mode
		}
	}
	type enhanceRequest struct {
		Text string `json:"text"`
		Mode string `json:"mode"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeToolError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req enhanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeToolError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeToolError(w, http.StatusBadRequest, "text is required")
			return
		}
		mode := strings.ToLower(strings.TrimSpace(req.Mode))
		if mode == "" {
			mode = defaultMode
		}
		enhanced, err := enhanceText(req.Text, mode)
		if err != nil {
			writeToolError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeToolJSON(w, http.StatusOK, map[string]string{
			"original": req.Text,
			"enhanced": enhanced,
			"mode":     mode,
		})
	}
}

func enhanceText(text, mode string) (string, error) {
	switch mode {
	case modeUppercase:
		return strings.ToUpper(text), nil
	case modeTitle:
		words := strings.Fields(text)
		for i, word := range words {
			if word == "" {
				continue
			}
			words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
		}
		return strings.Join(words, " "), nil
	case modeReverse:
		runes := []rune(text)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
}

func buildHealthHandler(reg *Registry, _ ToolConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeToolError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeToolJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"tools":  reg.Enabled(),
		})
	}
}
