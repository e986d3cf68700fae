package userdata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/qwenlm/qwen-ext/internal/branding"
)

// Directory and file name constants for the on-disk layout.
const (
	ExtensionsDir          = "extensions"
	EnablementConfigFile   = "extension-enablement.json"
	ManifestFile           = "qwen-extension.json"
	InstallMetadataFile    = ".qwen-extension-install.json"
	SettingsEnvFile        = ".env"
	DefaultContextFileName = "QWEN.md"
)

// Permission constants.
const (
	DirPermSecure  os.FileMode = 0700
	FilePermSecure os.FileMode = 0600
	DirPermNormal  os.FileMode = 0755
	FilePermNormal os.FileMode = 0644
)

// GetHomeRoot returns the user config directory.
// It checks the QWEN_HOME environment variable first,
// then falls back to ~/.qwen.
func GetHomeRoot() (string, error) {
	if v := os.Getenv(branding.EnvVar("HOME")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, branding.HomeDir()), nil
}

// GetExtensionsRoot returns the path to the installed extensions directory.
// Checks QWEN_EXTENSIONS_DIR first, then falls back to ~/.qwen/extensions/.
func GetExtensionsRoot() (string, error) {
	if v := os.Getenv(branding.EnvVar("EXTENSIONS_DIR")); v != "" {
		return v, nil
	}
	root, err := GetHomeRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, ExtensionsDir), nil
}

// GetEnablementConfigPath returns the path to extension-enablement.json.
func GetEnablementConfigPath() (string, error) {
	root, err := GetHomeRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, EnablementConfigFile), nil
}

// UserSettingsPath returns the user-scope settings file of an installed
// extension. It lives inside the extension directory.
func UserSettingsPath(extensionDir string) string {
	return filepath.Join(extensionDir, SettingsEnvFile)
}

// WorkspaceSettingsPath returns the workspace-scope settings file for the
// project rooted at workspaceDir.
func WorkspaceSettingsPath(workspaceDir string) string {
	return filepath.Join(workspaceDir, SettingsEnvFile)
}
