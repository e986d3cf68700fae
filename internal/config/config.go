package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qwenlm/qwen-ext/internal/branding"
	"github.com/spf13/viper"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Keys read by the extension subsystem.
const (
	KeyExtensions     = "extensions"
	KeyFolderTrust    = "folder_trust.enabled"
	KeyTrustedFolders = "folder_trust.trusted_folders"
	KeyGitHubToken    = "github_token"
)

// Dir returns the path to the user config directory (~/.qwen/).
// QWEN_HOME overrides the location.
func Dir() string {
	if v := os.Getenv(branding.EnvVar("HOME")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the config file (~/.qwen/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

// Load initializes Viper to read from the config file and environment.
func Load() {
	viper.SetConfigFile(FilePath())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Ignore error if config file doesn't exist yet.
	_ = viper.ReadInConfig()
}

// Get returns a config value by key. Returns empty string if not set.
func Get(key string) string {
	return viper.GetString(key)
}

// Set writes a config key-value pair and saves the config file.
func Set(key, value string) error {
	if err := EnsureDir(); err != nil {
		return err
	}

	viper.Set(key, value)

	configFile := FilePath()

	// Create the file if it doesn't exist.
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("creating config file %s: %w", configFile, err)
		}
		f.Close()
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ExtensionOverrides returns the CLI-level list of extensions to force-enable.
// An empty list means file-based enablement applies. The value may come from
// the config file as a YAML list or from QWEN_EXTENSIONS as a comma-separated
// string.
func ExtensionOverrides() []string {
	return stringList(KeyExtensions)
}

// stringList reads key as a list, splitting comma-separated entries so env
// vars and `config set` values behave like YAML lists.
func stringList(key string) []string {
	raw := viper.GetStringSlice(key)
	var out []string
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// IsFolderTrusted reports whether dir may install extensions. When folder
// trust is disabled every folder is trusted. Otherwise dir must equal or be
// nested inside one of the trusted folders.
func IsFolderTrusted(dir string) bool {
	if !viper.GetBool(KeyFolderTrust) {
		return true
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	for _, trusted := range stringList(KeyTrustedFolders) {
		t, err := filepath.Abs(trusted)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(t, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// GitHubToken returns the token used for GitHub API calls, preferring the
// conventional GITHUB_TOKEN environment variable.
func GitHubToken() string {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		return v
	}
	return viper.GetString(KeyGitHubToken)
}
