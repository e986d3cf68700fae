package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/qwenlm/qwen-ext/internal/manifest"
)

// Format is the detected package format of an extension source.
type Format int

const (
	FormatUnknown Format = iota
	FormatCanonical
	FormatGemini
	FormatClaude
)

func (f Format) String() string {
	switch f {
	case FormatCanonical:
		return "canonical"
	case FormatGemini:
		return "gemini"
	case FormatClaude:
		return "claude"
	default:
		return "unknown"
	}
}

const (
	// GeminiManifestFile is the manifest of a Gemini CLI extension.
	GeminiManifestFile = "gemini-extension.json"
	// ClaudePluginDir holds the Claude marketplace and plugin manifests.
	ClaudePluginDir = ".claude-plugin"
	// MarketplaceFile lists the plugins of a Claude marketplace.
	MarketplaceFile = "marketplace.json"
	// PluginFile is the per-plugin Claude manifest.
	PluginFile = "plugin.json"
)

// ErrUnknownFormat is returned when a directory matches no known format.
var ErrUnknownFormat = errors.New("no extension manifest found")

// Detect classifies dir. Gemini takes precedence over Claude, and Claude over
// the canonical format. A Claude marketplace only matches when it lists
// pluginName.
func Detect(dir, pluginName string) Format {
	if isGeminiExtension(dir) {
		return FormatGemini
	}
	if pluginName != "" {
		if m, err := ReadMarketplace(dir); err == nil && m.Plugin(pluginName) != nil {
			return FormatClaude
		}
	}
	if _, err := os.Stat(filepath.Join(dir, manifest.FileName)); err == nil {
		return FormatCanonical
	}
	return FormatUnknown
}

func isGeminiExtension(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, GeminiManifestFile))
	if err != nil {
		return false
	}
	var probe struct {
		Name    any `json:"name"`
		Version any `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, nameOK := probe.Name.(string)
	_, versionOK := probe.Version.(string)
	return nameOK && versionOK
}

// IsMarketplace reports whether dir contains a Claude marketplace.json.
func IsMarketplace(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ClaudePluginDir, MarketplaceFile))
	return err == nil
}

// Result is a converted extension ready to be copied into place.
type Result struct {
	Format Format
	// Dir holds the canonical layout. For FormatCanonical it is the
	// original source directory.
	Dir    string
	Config *manifest.ExtensionConfig

	temp bool
}

// Cleanup removes the temp directory, if the conversion created one.
func (r *Result) Cleanup() error {
	if r == nil || !r.temp {
		return nil
	}
	if err := os.RemoveAll(r.Dir); err != nil {
		return fmt.Errorf("removing %s: %w", r.Dir, err)
	}
	return nil
}

// Options configures a conversion.
type Options struct {
	// PluginName selects the plugin inside a Claude marketplace.
	PluginName string
	// Fetcher retrieves remote Claude plugin sources.
	Fetcher Fetcher
	// Variables are hydrated into the resulting manifest.
	Variables manifest.Variables
	Logger    *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default().With("component", "convert")
}

// Convert detects the format of dir and produces a canonical Result.
func Convert(ctx context.Context, dir string, opts Options) (*Result, error) {
	switch format := Detect(dir, opts.PluginName); format {
	case FormatGemini:
		return ConvertGemini(dir, opts)
	case FormatClaude:
		return ConvertClaude(ctx, dir, opts)
	case FormatCanonical:
		vars := opts.Variables
		if vars.ExtensionPath == "" {
			vars.ExtensionPath = dir
		}
		cfg, err := manifest.Load(dir, vars)
		if err != nil {
			return nil, err
		}
		return &Result{Format: format, Dir: dir, Config: cfg}, nil
	default:
		if opts.PluginName != "" && IsMarketplace(dir) {
			return nil, fmt.Errorf("plugin %q not found in marketplace at %s", opts.PluginName, dir)
		}
		return nil, fmt.Errorf("%w in %s", ErrUnknownFormat, dir)
	}
}

// loadConverted reads the canonical manifest written into a temp dir. The
// temp dir is removed when loading fails.
func loadConverted(format Format, dir string, opts Options) (*Result, error) {
	vars := opts.Variables
	if vars.ExtensionPath == "" {
		vars.ExtensionPath = dir
	}
	cfg, err := manifest.Load(dir, vars)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &Result{Format: format, Dir: dir, Config: cfg, temp: true}, nil
}
