package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/qwenlm/qwen-ext/internal/fsutil"
	"github.com/qwenlm/qwen-ext/internal/manifest"
)

// defaultClaudeVersion is used when neither the marketplace entry nor
// plugin.json declares a version.
const defaultClaudeVersion = "1.0.0"

// claudeMCPFile is the default MCP server file at a plugin root.
const claudeMCPFile = ".mcp.json"

// Fetcher retrieves a remote plugin source into destDir.
type Fetcher interface {
	FetchPlugin(ctx context.Context, url, destDir string) error
}

// marketplaceFields are the plugin fields a marketplace entry may declare.
// When present on the entry they override plugin.json.
var marketplaceFields = []string{
	"name", "version", "description", "author", "homepage", "repository",
	"license", "keywords", "commands", "agents", "skills", "hooks",
	"mcpServers", "outputStyles", "lspServers",
}

var resourceCategories = []string{"commands", "skills", "agents"}

// pluginConfig is the merged Claude plugin definition.
type pluginConfig struct {
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	Description string              `json:"description"`
	Commands    manifest.StringList `json:"commands"`
	Skills      manifest.StringList `json:"skills"`
	Agents      manifest.StringList `json:"agents"`
	MCPServers  json.RawMessage     `json:"mcpServers"`
	LSPServers  json.RawMessage     `json:"lspServers"`
}

func (c *pluginConfig) resources(category string) []string {
	switch category {
	case "commands":
		return c.Commands
	case "skills":
		return c.Skills
	case "agents":
		return c.Agents
	}
	return nil
}

// ConvertClaude converts the plugin opts.PluginName of the Claude
// marketplace at dir.
func ConvertClaude(ctx context.Context, dir string, opts Options) (*Result, error) {
	logger := opts.logger()

	m, err := ReadMarketplace(dir)
	if err != nil {
		return nil, err
	}
	entry := m.Plugin(opts.PluginName)
	if entry == nil {
		return nil, fmt.Errorf("plugin %q not found in marketplace %q", opts.PluginName, m.Name)
	}

	pluginDir, release, err := resolvePluginSource(ctx, dir, m, entry, opts)
	if err != nil {
		return nil, err
	}
	defer release()

	cfg, err := mergePluginConfig(pluginDir, entry)
	if err != nil {
		return nil, err
	}
	mcpServers := resolveMCPServers(pluginDir, cfg.MCPServers, logger)

	tmp, err := fsutil.MkdirTemp("claude")
	if err != nil {
		return nil, err
	}
	if err := buildClaudeExtension(pluginDir, tmp, cfg, mcpServers, logger); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}
	logger.Debug("converted claude plugin", "plugin", cfg.Name, "dir", tmp)
	return loadConverted(FormatClaude, tmp, opts)
}

func buildClaudeExtension(pluginDir, dst string, cfg *pluginConfig, mcpServers json.RawMessage, logger *slog.Logger) error {
	excludes := append([]string{".git"}, fsutil.DefaultExcludes...)
	if err := fsutil.CopyDir(pluginDir, dst, excludes...); err != nil {
		return fmt.Errorf("copying plugin: %w", err)
	}
	for _, category := range resourceCategories {
		if err := reconcileResources(pluginDir, dst, category, cfg.resources(category), logger); err != nil {
			return err
		}
	}
	if err := convertAgents(filepath.Join(dst, "agents")); err != nil {
		return err
	}

	out := map[string]any{
		"name":    cfg.Name,
		"version": cfg.Version,
	}
	if cfg.Version == "" {
		out["version"] = defaultClaudeVersion
	}
	if cfg.Description != "" {
		out["description"] = cfg.Description
	}
	if len(mcpServers) > 0 {
		out["mcpServers"] = mcpServers
	}
	if isStringOrObject(cfg.LSPServers) {
		out["lspServers"] = cfg.LSPServers
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dst, manifest.FileName), append(encoded, '\n'), 0o644)
}

// resolvePluginSource returns the local directory holding the plugin and a
// release func that removes any fetched copy.
func resolvePluginSource(ctx context.Context, marketplaceDir string, m *Marketplace, entry *PluginEntry, opts Options) (string, func(), error) {
	noop := func() {}
	src := entry.Source

	if !src.IsRemote() {
		base := marketplaceDir
		if m.Metadata != nil && m.Metadata.PluginRoot != "" && !strings.HasPrefix(src.Path, ".") {
			base = filepath.Join(base, filepath.FromSlash(m.Metadata.PluginRoot))
		}
		dir := filepath.Join(base, filepath.FromSlash(src.Path))
		if !fsutil.IsWithin(dir, marketplaceDir) {
			return "", noop, fmt.Errorf("plugin source %q escapes the marketplace", src.Path)
		}
		if !fsutil.IsDir(dir) {
			return "", noop, fmt.Errorf("plugin source %q not found", src.Path)
		}
		return dir, noop, nil
	}

	url, err := src.RemoteURL()
	if err != nil {
		return "", noop, err
	}
	if opts.Fetcher == nil {
		return "", noop, fmt.Errorf("plugin %q needs a remote fetch but no fetcher is configured", entry.Name)
	}
	tmp, err := fsutil.MkdirTemp("plugin-src")
	if err != nil {
		return "", noop, err
	}
	release := func() { os.RemoveAll(tmp) }
	if err := opts.Fetcher.FetchPlugin(ctx, url, tmp); err != nil {
		release()
		return "", noop, fmt.Errorf("fetching plugin %q from %s: %w", entry.Name, url, err)
	}
	return tmp, release, nil
}

// mergePluginConfig overlays marketplace entry fields on plugin.json. A
// strict entry requires plugin.json to exist.
func mergePluginConfig(pluginDir string, entry *PluginEntry) (*pluginConfig, error) {
	merged := make(map[string]json.RawMessage)

	path := filepath.Join(pluginDir, ClaudePluginDir, PluginFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &merged); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if entry.IsStrict() {
			return nil, fmt.Errorf("plugin %q is strict but %s/%s is missing", entry.Name, ClaudePluginDir, PluginFile)
		}
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	for _, field := range marketplaceFields {
		if v, ok := entry.Raw[field]; ok {
			merged[field] = v
		}
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var cfg pluginConfig
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return nil, fmt.Errorf("decoding plugin %q: %w", entry.Name, err)
	}
	if cfg.Name == "" {
		cfg.Name = entry.Name
	}
	return &cfg, nil
}

// resolveMCPServers returns the MCP server map. A string value names a JSON
// file relative to the plugin; parse failures are logged and yield nil.
func resolveMCPServers(pluginDir string, raw json.RawMessage, logger *slog.Logger) json.RawMessage {
	var file string
	switch {
	case len(raw) == 0 || string(raw) == "null":
		if !fsutil.Exists(filepath.Join(pluginDir, claudeMCPFile)) {
			return nil
		}
		file = claudeMCPFile
	case json.Unmarshal(raw, &file) == nil:
	default:
		return rewritePluginRoot(raw)
	}

	path := filepath.Join(pluginDir, filepath.FromSlash(file))
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read mcpServers file", "path", path, "error", err)
		return nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("failed to parse mcpServers file", "path", path, "error", err)
		return nil
	}
	if nested, ok := doc["mcpServers"]; ok {
		return rewritePluginRoot(nested)
	}
	return rewritePluginRoot(data)
}

// rewritePluginRoot maps Claude's plugin root variable onto extensionPath.
func rewritePluginRoot(raw json.RawMessage) json.RawMessage {
	return json.RawMessage(strings.ReplaceAll(string(raw), "${CLAUDE_PLUGIN_ROOT}", "${extensionPath}"))
}

// reconcileResources makes dst/<category> hold exactly the listed
// resources. Directories keep their name, files are copied flat, and
// resources already inside the category folder keep their relative place.
// Without a listing the copied folder is kept only if the plugin had one.
func reconcileResources(pluginDir, dst, category string, listed []string, logger *slog.Logger) error {
	destCat := filepath.Join(dst, category)
	srcCat := filepath.Join(pluginDir, category)

	if len(listed) == 0 {
		if !fsutil.IsDir(srcCat) {
			return os.RemoveAll(destCat)
		}
		return nil
	}

	if err := os.RemoveAll(destCat); err != nil {
		return fmt.Errorf("resetting %s: %w", category, err)
	}
	if err := os.MkdirAll(destCat, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", category, err)
	}

	for _, p := range listed {
		src := filepath.Join(pluginDir, filepath.FromSlash(p))
		if !fsutil.IsWithin(src, pluginDir) {
			logger.Warn("skipping resource outside plugin", "category", category, "path", p)
			continue
		}
		info, err := os.Stat(src)
		if err != nil {
			logger.Warn("skipping missing resource", "category", category, "path", p)
			continue
		}

		target := filepath.Join(destCat, filepath.Base(src))
		if fsutil.IsWithin(src, srcCat) {
			rel, _ := filepath.Rel(srcCat, src)
			target = filepath.Join(destCat, rel)
		}

		if info.IsDir() {
			err = fsutil.CopyDir(src, target, fsutil.DefaultExcludes...)
		} else {
			err = fsutil.CopyFile(src, target)
		}
		if err != nil {
			return fmt.Errorf("copying %s resource %s: %w", category, p, err)
		}
	}
	return nil
}

func isStringOrObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "\"") || strings.HasPrefix(trimmed, "{")
}
