package extension

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/platform"
	"github.com/qwenlm/qwen-ext/internal/source"
	"github.com/qwenlm/qwen-ext/internal/userdata"
)

// InstallType records how an extension was obtained.
type InstallType string

const (
	TypeLocal         InstallType = "local"
	TypeLink          InstallType = "link"
	TypeGit           InstallType = source.TypeGit
	TypeGitHubRelease InstallType = source.TypeGitHubRelease
	TypeMarketplace   InstallType = "marketplace"
)

// ParseInstallType validates a user-supplied install type.
func ParseInstallType(s string) (InstallType, error) {
	switch t := InstallType(strings.ToLower(s)); t {
	case TypeLocal, TypeLink, TypeGit, TypeGitHubRelease, TypeMarketplace:
		return t, nil
	}
	return "", fmt.Errorf("unknown install type %q", s)
}

// IsRemote reports whether the type is materialized over the network.
func (t InstallType) IsRemote() bool {
	return t == TypeGit || t == TypeGitHubRelease || t == TypeMarketplace
}

// InstallMetadata is persisted next to an installed extension.
type InstallMetadata struct {
	Type   InstallType `json:"type"`
	Source string      `json:"source"`
	// PluginName selects a plugin inside a Claude marketplace.
	PluginName string `json:"pluginName,omitempty"`
	AutoUpdate bool   `json:"autoUpdate,omitempty"`
	ReleaseTag string `json:"releaseTag,omitempty"`
	Ref        string `json:"ref,omitempty"`
	// Commit is the checked-out revision of a git install.
	Commit string `json:"commit,omitempty"`
}

// ReadInstallMetadata reads the metadata file of dir. A missing file yields
// nil without error.
func ReadInstallMetadata(dir string) (*InstallMetadata, error) {
	path := filepath.Join(dir, userdata.InstallMetadataFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading install metadata %s: %w", path, err)
	}
	var meta InstallMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing install metadata %s: %w", path, err)
	}
	return &meta, nil
}

// WriteInstallMetadata writes meta into dir.
func WriteInstallMetadata(dir string, meta *InstallMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling install metadata: %w", err)
	}
	path := filepath.Join(dir, userdata.InstallMetadataFile)
	if err := platform.WriteFileAtomic(path, append(data, '\n'), userdata.FilePermNormal); err != nil {
		return fmt.Errorf("writing install metadata %s: %w", path, err)
	}
	return nil
}

// GetExtensionID derives the stable id used to namespace stored secrets.
// GitHub sources hash to their canonical repository URL so that different
// spellings of the same repository share an id.
func GetExtensionID(cfg *manifest.ExtensionConfig, meta *InstallMetadata) string {
	key := cfg.Name
	if meta != nil {
		key = meta.Source
		if meta.Type.IsRemote() {
			if canonical, ok := source.CanonicalGitHubURL(meta.Source); ok {
				key = canonical
			}
		}
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
