package tools

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GatewayConfig describes which custom tools the gateway exposes.
type GatewayConfig struct {
	BasePath string                `yaml:"basePath"`
	Tools    map[string]ToolConfig `yaml:"tools"`
}

// ToolConfig is the configuration block for a single tool endpoint.
type ToolConfig struct {
	Enabled bool           `yaml:"enabled"`
	Path    string         `yaml:"path"`
	Options map[string]any `yaml:"options"`
}

// LoadGatewayConfig reads a YAML file into a GatewayConfig.
func LoadGatewayConfig(path string) (GatewayConfig, error) {
	var cfg GatewayConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read tools config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal tools config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// DefaultGatewayConfig enables the built-in tools under /api/tools.
func DefaultGatewayConfig() GatewayConfig {
	cfg := GatewayConfig{
		Tools: map[string]ToolConfig{
			"hello":   {Enabled: true},
			"echo":    {Enabled: true},
			"enhance": {Enabled: true},
			"health":  {Enabled: true},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *GatewayConfig) applyDefaults() {
	if strings.TrimSpace(c.BasePath) == "" {
		c.BasePath = "/api/tools"
	}
	c.BasePath = "/" + strings.Trim(c.BasePath, "/")
	if c.Tools == nil {
		c.Tools = map[string]ToolConfig{}
	}
	for name, tool := range c.Tools {
		if strings.TrimSpace(tool.Path) == "" {
			tool.Path = "/" + name
			c.Tools[name] = tool
		}
	}
}

// Validate ensures the gateway configuration is internally consistent.
func (c GatewayConfig) Validate() error {
	seen := make(map[string]string, len(c.Tools))
	for name, tool := range c.Tools {
		if name == "" {
			return errors.New("tool name cannot be empty")
		}
		if !tool.Enabled {
			continue
		}
		if _, ok := builtinHandlers[name]; !ok {
			return fmt.Errorf("unknown tool %q", name)
		}
		path := tool.Path
		if other, ok := seen[path]; ok {
			return fmt.Errorf("tools %s and %s share path %s", other, name, path)
		}
		seen[path] = name
	}
	return nil
}
