package manifest

import (
	"encoding/json"
	"fmt"
)

// FileName is the canonical manifest file name.
const FileName = "qwen-extension.json"

// ExtensionConfig is the parsed canonical manifest.
type ExtensionConfig struct {
	Name            string                     `json:"name"`
	Version         string                     `json:"version"`
	Description     string                     `json:"description,omitempty"`
	MCPServers      map[string]MCPServerConfig `json:"mcpServers,omitempty"`
	LSPServers      any                        `json:"lspServers,omitempty"`
	ContextFileName StringList                 `json:"contextFileName,omitempty"`
	Commands        StringList                 `json:"commands,omitempty"`
	Skills          StringList                 `json:"skills,omitempty"`
	Agents          StringList                 `json:"agents,omitempty"`
	Settings        []ExtensionSetting         `json:"settings,omitempty"`
}

// ExtensionSetting declares one configurable value. EnvVar is the lookup key
// under which the value is stored and exposed.
type ExtensionSetting struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	EnvVar      string `json:"envVar"`
	Sensitive   bool   `json:"sensitive,omitempty"`
}

// MCPServerConfig declares an MCP server contributed by an extension.
// Trust is honoured internally but never exposed to execution.
type MCPServerConfig struct {
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Cwd          string            `json:"cwd,omitempty"`
	URL          string            `json:"url,omitempty"`
	HTTPURL      string            `json:"httpUrl,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	TCP          string            `json:"tcp,omitempty"`
	Timeout      int               `json:"timeout,omitempty"`
	Trust        *bool             `json:"trust,omitempty"`
	Description  string            `json:"description,omitempty"`
	IncludeTools []string          `json:"includeTools,omitempty"`
	ExcludeTools []string          `json:"excludeTools,omitempty"`
}

// WithoutTrust returns a copy of the server config with Trust cleared.
func (c MCPServerConfig) WithoutTrust() MCPServerConfig {
	c.Trust = nil
	return c
}

// SettingNames returns the set of declared setting names.
func (c *ExtensionConfig) SettingNames() map[string]bool {
	names := make(map[string]bool, len(c.Settings))
	for _, s := range c.Settings {
		names[s.Name] = true
	}
	return names
}

// FindSetting returns the setting whose name or envVar equals key.
func (c *ExtensionConfig) FindSetting(key string) (ExtensionSetting, bool) {
	for _, s := range c.Settings {
		if s.Name == key || s.EnvVar == key {
			return s, true
		}
	}
	return ExtensionSetting{}, false
}

// StringList accepts either a single JSON string or an array of strings.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or array of strings: %w", err)
	}
	*l = many
	return nil
}

// MarshalJSON writes a one-element list back as a plain string.
func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}
