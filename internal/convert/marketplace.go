package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Marketplace is the .claude-plugin/marketplace.json structure.
type Marketplace struct {
	Name     string               `json:"name"`
	Owner    *Owner               `json:"owner,omitempty"`
	Metadata *MarketplaceMetadata `json:"metadata,omitempty"`
	Plugins  []PluginEntry        `json:"plugins"`
}

// Owner identifies a marketplace owner or plugin author.
type Owner struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// MarketplaceMetadata holds optional marketplace-wide settings.
type MarketplaceMetadata struct {
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	PluginRoot  string `json:"pluginRoot,omitempty"`
}

// PluginEntry is one plugin listed in a marketplace. Raw keeps the original
// object so that only fields actually present override plugin.json.
type PluginEntry struct {
	Name        string       `json:"name"`
	Source      PluginSource `json:"source"`
	Version     string       `json:"version,omitempty"`
	Description string       `json:"description,omitempty"`
	Strict      *bool        `json:"strict,omitempty"`

	Raw map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PluginEntry) UnmarshalJSON(data []byte) error {
	type plain PluginEntry
	var entry plain
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &entry.Raw); err != nil {
		return err
	}
	*p = PluginEntry(entry)
	return nil
}

// IsStrict reports whether the entry requires a companion plugin.json.
func (p *PluginEntry) IsStrict() bool {
	return p.Strict != nil && *p.Strict
}

// PluginSource locates a plugin. Either Path is set (relative to the
// marketplace root) or Kind is "github" or "url" with a remote location.
type PluginSource struct {
	Path string
	Kind string
	Repo string
	URL  string
}

// UnmarshalJSON accepts a relative path string or a source descriptor.
func (s *PluginSource) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		*s = PluginSource{Path: path}
		return nil
	}
	var desc struct {
		Source string `json:"source"`
		Repo   string `json:"repo"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(data, &desc); err != nil {
		return fmt.Errorf("plugin source must be a path or an object: %w", err)
	}
	*s = PluginSource{Kind: desc.Source, Repo: desc.Repo, URL: desc.URL}
	return nil
}

// IsRemote reports whether the source must be fetched.
func (s PluginSource) IsRemote() bool {
	return s.Path == ""
}

// RemoteURL returns the location to fetch a remote source from.
func (s PluginSource) RemoteURL() (string, error) {
	switch s.Kind {
	case "github":
		if s.Repo == "" {
			return "", fmt.Errorf("github plugin source has no repo")
		}
		return "https://github.com/" + strings.Trim(s.Repo, "/"), nil
	case "url", "git":
		if s.URL == "" {
			return "", fmt.Errorf("%s plugin source has no url", s.Kind)
		}
		return s.URL, nil
	default:
		return "", fmt.Errorf("unsupported plugin source %q", s.Kind)
	}
}

// ReadMarketplace loads <dir>/.claude-plugin/marketplace.json.
func ReadMarketplace(dir string) (*Marketplace, error) {
	path := filepath.Join(dir, ClaudePluginDir, MarketplaceFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading marketplace: %w", err)
	}
	var m Marketplace
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &m, nil
}

// Plugin returns the entry named name, or nil.
func (m *Marketplace) Plugin(name string) *PluginEntry {
	for i := range m.Plugins {
		if m.Plugins[i].Name == name {
			return &m.Plugins[i]
		}
	}
	return nil
}

// PluginNames lists the plugin names in declaration order.
func (m *Marketplace) PluginNames() []string {
	names := make([]string, len(m.Plugins))
	for i, p := range m.Plugins {
		names[i] = p.Name
	}
	return names
}
