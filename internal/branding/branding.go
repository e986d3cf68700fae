// Package branding provides compile-time identity values for the CLI.
//
// The values live in branding.yaml next to this file and are baked into the
// binary with //go:embed.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName     string `yaml:"cli_name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
	HomeDir     string `yaml:"home_dir"`
	EnvPrefix   string `yaml:"env_prefix"`
	GoModule    string `yaml:"go_module"`
	GitHubRepo  string `yaml:"github_repo"`
}

func load() {
	once.Do(func() {
		// Set hard defaults in case the embedded file is missing/empty.
		defaults = brand{
			CLIName:     "qwen-ext",
			DisplayName: "Qwen Code",
			Description: "Extension manager for the Qwen Code assistant",
			HomeDir:     ".qwen",
			EnvPrefix:   "QWEN",
			GoModule:    "github.com/qwenlm/qwen-ext",
			GitHubRepo:  "QwenLM/qwen-code",
		}
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "qwen-ext").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name (e.g., "Qwen Code").
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".qwen").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "QWEN").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// GitHubRepo returns the "owner/repo" string of the product itself.
func GitHubRepo() string { load(); return defaults.GitHubRepo }

// KeychainService returns the keychain service label for an extension's
// secrets, e.g. "Qwen Code Extensions my-ext 3f2a...".
func KeychainService(extensionName, extensionID string) string {
	load()
	return defaults.DisplayName + " Extensions " + extensionName + " " + extensionID
}

// EnvVar returns a fully qualified env var name, e.g., EnvVar("HOME") → "QWEN_HOME".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
