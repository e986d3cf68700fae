package convert

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/qwenlm/qwen-ext/internal/fsutil"
	"github.com/qwenlm/qwen-ext/internal/manifest"
)

// geminiContextFile is the context file Gemini CLI loads when the manifest
// names none.
const geminiContextFile = "GEMINI.md"

// geminiPassthroughFields are copied verbatim into the canonical manifest.
var geminiPassthroughFields = []string{"name", "version", "description", "mcpServers", "contextFileName", "settings"}

// geminiCommand is the TOML layout of a Gemini custom command.
type geminiCommand struct {
	Description string `toml:"description"`
	Prompt      string `toml:"prompt"`
}

// ConvertGemini copies a Gemini CLI extension into a temp directory,
// converts its TOML commands to markdown and writes qwen-extension.json.
func ConvertGemini(srcDir string, opts Options) (*Result, error) {
	data, err := os.ReadFile(filepath.Join(srcDir, GeminiManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", GeminiManifestFile, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", GeminiManifestFile, err)
	}

	tmp, err := fsutil.MkdirTemp("gemini")
	if err != nil {
		return nil, err
	}
	if err := convertGeminiInto(srcDir, tmp, raw); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}
	opts.logger().Debug("converted gemini extension", "source", srcDir, "dir", tmp)
	return loadConverted(FormatGemini, tmp, opts)
}

func convertGeminiInto(srcDir, dst string, raw map[string]json.RawMessage) error {
	if err := fsutil.CopyDir(srcDir, dst, fsutil.DefaultExcludes...); err != nil {
		return fmt.Errorf("copying extension: %w", err)
	}

	commandsDir := filepath.Join(dst, "commands")
	if fsutil.IsDir(commandsDir) {
		if err := convertTOMLCommands(commandsDir); err != nil {
			return err
		}
	}

	out := make(map[string]json.RawMessage, len(geminiPassthroughFields))
	for _, field := range geminiPassthroughFields {
		if v, ok := raw[field]; ok {
			out[field] = v
		}
	}
	if _, ok := out["contextFileName"]; !ok && fsutil.Exists(filepath.Join(dst, geminiContextFile)) {
		out["contextFileName"] = json.RawMessage(`"` + geminiContextFile + `"`)
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dst, manifest.FileName), append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// convertTOMLCommands replaces every *.toml under dir with a markdown file
// of the same base name.
func convertTOMLCommands(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".toml" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		md, err := TOMLToMarkdown(data)
		if err != nil {
			return fmt.Errorf("converting %s: %w", path, err)
		}
		mdPath := strings.TrimSuffix(path, ".toml") + ".md"
		if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
			return err
		}
		return os.Remove(path)
	})
}

// TOMLToMarkdown converts a Gemini TOML command into a markdown command with
// a description frontmatter.
func TOMLToMarkdown(data []byte) (string, error) {
	var cmd geminiCommand
	if err := toml.Unmarshal(data, &cmd); err != nil {
		return "", fmt.Errorf("parsing TOML command: %w", err)
	}
	if strings.TrimSpace(cmd.Prompt) == "" {
		return "", fmt.Errorf("command has no prompt")
	}
	if cmd.Description == "" {
		return strings.TrimSpace(cmd.Prompt) + "\n", nil
	}
	return RenderFrontmatter(map[string]string{"description": cmd.Description}, strings.TrimSpace(cmd.Prompt))
}
